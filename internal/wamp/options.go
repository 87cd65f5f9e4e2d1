package wamp

import (
	"fmt"
	"time"
)

// Option keys on the wire.
const (
	OptExcludeMe   = "exclude_me"
	OptExclude     = "exclude"
	OptEligible    = "eligible"
	OptDiscloseMe  = "disclose_me"
	OptAcknowledge = "acknowledge"
	OptMatch       = "match"
	OptTimeout     = "timeout"
	OptMode        = "mode"

	DetailTopic     = "topic"
	DetailProcedure = "procedure"
	DetailPublisher = "publisher"
	DetailCaller    = "caller"
	DetailMessage   = "message"
	DetailRoles     = "roles"

	CancelModeKill = "kill"
)

// Bool returns a pointer to v, for optional boolean fields.
func Bool(v bool) *bool {
	return &v
}

// PublishOptions controls a single publication.
type PublishOptions struct {
	// ExcludeMe drops the publisher from the receivers. nil means true.
	ExcludeMe *bool
	// Exclude lists session ids that never receive the event.
	Exclude []ID
	// Eligible, when non-nil, is the allow-list of receiving session ids.
	Eligible []ID
	// DiscloseMe adds the publisher session id to event details.
	DiscloseMe bool
	// Acknowledge asks the broker for PUBLISHED.
	Acknowledge bool
}

// ExcludesPublisher applies the ExcludeMe default.
func (o PublishOptions) ExcludesPublisher() bool {
	return o.ExcludeMe == nil || *o.ExcludeMe
}

func (o PublishOptions) ToDict() Dict {
	d := Dict{}
	if o.ExcludeMe != nil {
		d[OptExcludeMe] = *o.ExcludeMe
	}
	if len(o.Exclude) > 0 {
		d[OptExclude] = idList(o.Exclude)
	}
	if o.Eligible != nil {
		d[OptEligible] = idList(o.Eligible)
	}
	if o.DiscloseMe {
		d[OptDiscloseMe] = true
	}
	if o.Acknowledge {
		d[OptAcknowledge] = true
	}
	return d
}

// PublishOptionsFromDict decodes PUBLISH options. Unknown keys are ignored.
func PublishOptionsFromDict(d Dict) (PublishOptions, error) {
	var o PublishOptions
	if v, ok, err := dictBool(d, OptExcludeMe); err != nil {
		return o, err
	} else if ok {
		o.ExcludeMe = Bool(v)
	}
	ids, ok, err := dictIDs(d, OptExclude)
	if err != nil {
		return o, err
	}
	if ok {
		o.Exclude = ids
	}
	ids, ok, err = dictIDs(d, OptEligible)
	if err != nil {
		return o, err
	}
	if ok {
		o.Eligible = ids
	}
	if o.DiscloseMe, _, err = dictBool(d, OptDiscloseMe); err != nil {
		return o, err
	}
	if o.Acknowledge, _, err = dictBool(d, OptAcknowledge); err != nil {
		return o, err
	}
	return o, nil
}

// SubscribeOptions selects how a subscription topic matches publications.
type SubscribeOptions struct {
	// Match is MatchExact (default) or MatchPrefix.
	Match string
}

func (o SubscribeOptions) ToDict() Dict {
	return matchDict(o.Match)
}

func SubscribeOptionsFromDict(d Dict) (SubscribeOptions, error) {
	m, err := matchFromDict(d)
	return SubscribeOptions{Match: m}, err
}

// RegisterOptions selects how a registered procedure matches calls.
type RegisterOptions struct {
	// Match is MatchExact (default) or MatchPrefix.
	Match string
}

func (o RegisterOptions) ToDict() Dict {
	return matchDict(o.Match)
}

func RegisterOptionsFromDict(d Dict) (RegisterOptions, error) {
	m, err := matchFromDict(d)
	return RegisterOptions{Match: m}, err
}

// CallOptions controls a single call.
type CallOptions struct {
	// Timeout rejects the call with ErrTimeout once elapsed. Zero waits forever.
	Timeout time.Duration
	// DiscloseMe asks the dealer to reveal the caller to the callee.
	DiscloseMe bool
}

func (o CallOptions) ToDict() Dict {
	d := Dict{}
	if o.Timeout > 0 {
		d[OptTimeout] = o.Timeout.Milliseconds()
	}
	if o.DiscloseMe {
		d[OptDiscloseMe] = true
	}
	return d
}

func CallOptionsFromDict(d Dict) (CallOptions, error) {
	var o CallOptions
	if v, ok := d[OptTimeout]; ok {
		ms, isInt := toInt64(v)
		if !isInt || ms < 0 {
			return o, fmt.Errorf("%w: %s=%v", ErrInvalidArgument, OptTimeout, v)
		}
		o.Timeout = time.Duration(ms) * time.Millisecond
	}
	var err error
	o.DiscloseMe, _, err = dictBool(d, OptDiscloseMe)
	return o, err
}

// NormalizeMatch maps "" to MatchExact and rejects unsupported policies.
func NormalizeMatch(match string) (string, error) {
	switch match {
	case "", MatchExact:
		return MatchExact, nil
	case MatchPrefix:
		return MatchPrefix, nil
	}
	return "", fmt.Errorf("%w: %s=%q", ErrInvalidArgument, OptMatch, match)
}

func matchDict(match string) Dict {
	if match == "" || match == MatchExact {
		return Dict{}
	}
	return Dict{OptMatch: match}
}

func matchFromDict(d Dict) (string, error) {
	v, ok := d[OptMatch]
	if !ok {
		return MatchExact, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", fmt.Errorf("%w: %s=%v", ErrInvalidArgument, OptMatch, v)
	}
	return NormalizeMatch(s)
}

func dictBool(d Dict, key string) (bool, bool, error) {
	v, ok := d[key]
	if !ok {
		return false, false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, false, fmt.Errorf("%w: %s=%v", ErrInvalidArgument, key, v)
	}
	return b, true, nil
}

func dictIDs(d Dict, key string) ([]ID, bool, error) {
	v, ok := d[key]
	if !ok {
		return nil, false, nil
	}
	l, isList := toList(v)
	if !isList {
		return nil, false, fmt.Errorf("%w: %s=%v", ErrInvalidArgument, key, v)
	}
	ids := make([]ID, 0, len(l))
	for _, e := range l {
		id, isID := toID(e)
		if !isID {
			return nil, false, fmt.Errorf("%w: %s element=%v", ErrInvalidArgument, key, e)
		}
		ids = append(ids, id)
	}
	return ids, true, nil
}

func idList(ids []ID) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

// DictID reads an identifier from d.
func DictID(d Dict, key string) (ID, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	return toID(v)
}

// DictString reads a string from d.
func DictString(d Dict, key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// AsID converts a decoded number into an ID.
func AsID(v interface{}) (ID, bool) {
	return toID(v)
}
