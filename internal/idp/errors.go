package idp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ProviderError is a non-success answer of the identity provider.
type ProviderError struct {
	StatusCode int
	ID         string
	Reason     string
	Message    string

	// RedirectBrowserTo is set when the provider requires a browser redirect
	// to continue the flow, for example for social sign in.
	RedirectBrowserTo string

	// SetCookie holds the Set-Cookie headers of the answer.
	SetCookie []string
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("identity provider responded with status %d", e.StatusCode)
	if e.ID != "" {
		msg += ": " + e.ID
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

// FlowError is returned when the provider rejected submitted data and
// reissued the flow with validation messages.
type FlowError struct {
	Flow Flow
}

func (e *FlowError) Error() string {
	if msgs := e.Messages(); len(msgs) > 0 {
		return "flow " + e.Flow.ID + " rejected: " + msgs[0].Text
	}

	return "flow " + e.Flow.ID + " rejected"
}

// Messages returns the flow-level and node-level messages of the reissued flow.
func (e *FlowError) Messages() []Message {
	msgs := append([]Message{}, e.Flow.UI.Messages...)
	for _, node := range e.Flow.UI.Nodes {
		msgs = append(msgs, node.Messages...)
	}

	return msgs
}

// StatusCode returns the provider status of err, or 0 when err is not a
// provider answer.
func StatusCode(err error) int {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode
	}

	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return 400
	}

	return 0
}

// parseError turns a non-success answer into a *ProviderError or, for a
// reissued flow, a *FlowError. Both keep the answer's Set-Cookie headers.
func parseError(status int, body []byte, setCookie []string) error {
	if !gjson.ValidBytes(body) {
		return &ProviderError{StatusCode: status, SetCookie: setCookie}
	}

	res := gjson.ParseBytes(body)

	// a reissued flow is recognised by its id and ui form
	if res.Get("id").Exists() && res.Get("ui").IsObject() {
		var flow Flow
		if err := json.Unmarshal(body, &flow); err == nil {
			flow.SetCookie = setCookie
			return &FlowError{Flow: flow}
		}
	}

	providerErr := &ProviderError{
		StatusCode:        status,
		ID:                res.Get("error.id").String(),
		Reason:            res.Get("error.reason").String(),
		Message:           res.Get("error.message").String(),
		RedirectBrowserTo: res.Get("redirect_browser_to").String(),
		SetCookie:         setCookie,
	}
	if providerErr.Message == "" {
		providerErr.Message = res.Get("ui.messages.0.text").String()
	}

	return providerErr
}
