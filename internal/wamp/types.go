package wamp

import "fmt"

// ID is a WAMP identifier in the range [1, 2^53].
type ID uint64

// MaxID is the largest identifier that survives a round trip through IEEE doubles.
const MaxID ID = 1 << 53

// URI names a procedure, topic or error.
type URI string

// Dict is a WAMP dictionary.
type Dict map[string]interface{}

// List is a WAMP list. Raw messages are Lists before Parse.
type List []interface{}

// MessageType is the leading integer code of every message.
type MessageType int

const (
	MessageHello        MessageType = 1
	MessageWelcome      MessageType = 2
	MessageAbort        MessageType = 3
	MessageGoodbye      MessageType = 6
	MessageError        MessageType = 8
	MessagePublish      MessageType = 16
	MessagePublished    MessageType = 17
	MessageSubscribe    MessageType = 32
	MessageSubscribed   MessageType = 33
	MessageUnsubscribe  MessageType = 34
	MessageUnsubscribed MessageType = 35
	MessageEvent        MessageType = 36
	MessageCall         MessageType = 48
	MessageCancel       MessageType = 49
	MessageResult       MessageType = 50
	MessageRegister     MessageType = 64
	MessageRegistered   MessageType = 65
	MessageUnregister   MessageType = 66
	MessageUnregistered MessageType = 67
	MessageInvocation   MessageType = 68
	MessageInterrupt    MessageType = 69
	MessageYield        MessageType = 70
)

var messageNames = map[MessageType]string{
	MessageHello:        "HELLO",
	MessageWelcome:      "WELCOME",
	MessageAbort:        "ABORT",
	MessageGoodbye:      "GOODBYE",
	MessageError:        "ERROR",
	MessagePublish:      "PUBLISH",
	MessagePublished:    "PUBLISHED",
	MessageSubscribe:    "SUBSCRIBE",
	MessageSubscribed:   "SUBSCRIBED",
	MessageUnsubscribe:  "UNSUBSCRIBE",
	MessageUnsubscribed: "UNSUBSCRIBED",
	MessageEvent:        "EVENT",
	MessageCall:         "CALL",
	MessageCancel:       "CANCEL",
	MessageResult:       "RESULT",
	MessageRegister:     "REGISTER",
	MessageRegistered:   "REGISTERED",
	MessageUnregister:   "UNREGISTER",
	MessageUnregistered: "UNREGISTERED",
	MessageInvocation:   "INVOCATION",
	MessageInterrupt:    "INTERRUPT",
	MessageYield:        "YIELD",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(t))
}

// Known reports whether t is a message code this package can parse.
func (t MessageType) Known() bool {
	_, ok := messageNames[t]
	return ok
}

// Message is implemented by every typed WAMP message.
type Message interface {
	MessageType() MessageType
}
