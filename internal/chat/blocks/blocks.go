// Package blocks builds the block-kit-shaped values used in chat messages
// and modal views: plain maps, not a typed SDK, since no chat SDK is
// vendored (see DESIGN.md).
package blocks

// Text builds a plain-text (or markdown, if mrkdwn=true) text object.
func Text(value string, mrkdwn bool) map[string]any {
	t := "plain_text"
	if mrkdwn {
		t = "mrkdwn"
	}
	return map[string]any{"type": t, "text": value}
}

// Submit builds a modal's top-level submit button label. Required on every
// view that carries an Input block (§6); omitting it leaves the modal with
// no way to commit the form.
func Submit(text string) map[string]any {
	return Text(text, false)
}

// Section builds a section block with optional accessory (e.g. a button).
func Section(text map[string]any, accessory map[string]any) map[string]any {
	b := map[string]any{"type": "section", "text": text}
	if accessory != nil {
		b["accessory"] = accessory
	}
	return b
}

// Divider builds a divider block.
func Divider() map[string]any {
	return map[string]any{"type": "divider"}
}

// Input builds an input block for a modal view.
func Input(blockID, label, actionID string, element map[string]any) map[string]any {
	return map[string]any{
		"type":     "input",
		"block_id": blockID,
		"label":    Text(label, false),
		"element":  element,
	}
}

// PlainTextInput builds a plain_text_input element.
func PlainTextInput(actionID, initialValue string, multiline bool) map[string]any {
	el := map[string]any{"type": "plain_text_input", "action_id": actionID, "multiline": multiline}
	if initialValue != "" {
		el["initial_value"] = initialValue
	}
	return el
}

// Actions builds an actions block from one or more interactive elements.
func Actions(elements ...map[string]any) map[string]any {
	return map[string]any{"type": "actions", "elements": elements}
}

// Button builds a button element. style is omitted entirely when empty —
// a missing Style field, never a serialized null (§6).
func Button(text, actionID, value, style string) map[string]any {
	b := map[string]any{
		"type":      "button",
		"text":      Text(text, false),
		"action_id": actionID,
		"value":     value,
	}
	if style != "" {
		b["style"] = style
	}
	return b
}
