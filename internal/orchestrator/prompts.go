package orchestrator

import (
	"fmt"
	"strings"

	"drivethru/lane/internal/menu"
	"drivethru/lane/internal/voice"
)

const (
	msgRepeating = "Repeating the menu."
	msgNoSpeech  = "I didn't catch that."
	msgUnclear   = "Sorry, I did not understand."
	msgCancelled = "Order cancelled."
	msgPickup    = "Thank you! Your order is on the screen. Our team is preparing it. Please drive to the pick-up window to collect your order and pay."
	msgStaff     = "I didn't catch your order. Let me connect you with our team member. Please drive to the pick-up window. Our team will help you there."
)

// menuSegments is the full announcement: preamble, one segment per item and
// the command trailer. Each segment is spoken with its own Announce call.
func menuSegments(greeting string, c *menu.Catalog) []string {
	out := make([]string, 0, c.Len()+2)
	if greeting != "" {
		out = append(out, greeting)
	}
	for _, it := range c.Items() {
		out = append(out, fmt.Sprintf("Number %s. %s", menu.NumberWord(it.Code), voice.CleanForSpeech(it.SpokenLabel())))
	}
	return append(out, trailer(c)+" I am listening now.")
}

func trailer(c *menu.Catalog) string {
	return fmt.Sprintf("Say %s for your choice. Say %d to hear the menu again. Say %d to cancel your order.",
		choiceList(c.Len()), menu.RepeatCode, c.CancelCode())
}

// shortPrompt is the reprompt used instead of the full menu.
func shortPrompt(c *menu.Catalog) string {
	if c.Len() == 1 {
		return fmt.Sprintf("Say 1 to order, %d to repeat the menu, or %d to cancel.", menu.RepeatCode, c.CancelCode())
	}
	return fmt.Sprintf("Say a number from 1 to %d, %d to repeat the menu, or %d to cancel.", c.Len(), menu.RepeatCode, c.CancelCode())
}

// choiceList renders "1", "1 or 2", "1, 2, or 3".
func choiceList(n int) string {
	nums := make([]string, n)
	for i := range nums {
		nums[i] = fmt.Sprint(i + 1)
	}
	switch n {
	case 1:
		return nums[0]
	case 2:
		return nums[0] + " or " + nums[1]
	}
	return strings.Join(nums[:n-1], ", ") + ", or " + nums[n-1]
}

func confirmSegments(seq int, item menu.MenuItem) []string {
	return []string{
		fmt.Sprintf("Order confirmed. Car number %s.", menu.NumberWord(seq)),
		"Your order is. " + voice.CleanForSpeech(item.SpokenLabel()) + ".",
		msgPickup,
	}
}
