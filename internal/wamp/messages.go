package wamp

// [HELLO, Realm|uri, Details|dict]
type Hello struct {
	Realm   URI
	Details Dict
}

// [WELCOME, Session|id, Details|dict]
type Welcome struct {
	Session ID
	Details Dict
}

// [ABORT, Details|dict, Reason|uri]
type Abort struct {
	Details Dict
	Reason  URI
}

// [GOODBYE, Details|dict, Reason|uri]
type Goodbye struct {
	Details Dict
	Reason  URI
}

// Error answers a request of RequestType identified by Request.
// [ERROR, REQUEST.Type|int, REQUEST.Request|id, Details|dict, Error|uri, Arguments|list, ArgumentsKw|dict]
type Error struct {
	RequestType MessageType
	Request     ID
	Details     Dict
	Error       URI
	Args        List
	KwArgs      Dict
}

// [PUBLISH, Request|id, Options|dict, Topic|uri, Arguments|list, ArgumentsKw|dict]
type Publish struct {
	Request ID
	Options Dict
	Topic   URI
	Args    List
	KwArgs  Dict
}

// [PUBLISHED, PUBLISH.Request|id, Publication|id]
type Published struct {
	Request     ID
	Publication ID
}

// [SUBSCRIBE, Request|id, Options|dict, Topic|uri]
type Subscribe struct {
	Request ID
	Options Dict
	Topic   URI
}

// [SUBSCRIBED, SUBSCRIBE.Request|id, Subscription|id]
type Subscribed struct {
	Request      ID
	Subscription ID
}

// [UNSUBSCRIBE, Request|id, SUBSCRIBED.Subscription|id]
type Unsubscribe struct {
	Request      ID
	Subscription ID
}

// [UNSUBSCRIBED, UNSUBSCRIBE.Request|id]
type Unsubscribed struct {
	Request ID
}

// [EVENT, SUBSCRIBED.Subscription|id, PUBLISHED.Publication|id, Details|dict, Arguments|list, ArgumentsKw|dict]
type Event struct {
	Subscription ID
	Publication  ID
	Details      Dict
	Args         List
	KwArgs       Dict
}

// [CALL, Request|id, Options|dict, Procedure|uri, Arguments|list, ArgumentsKw|dict]
type Call struct {
	Request   ID
	Options   Dict
	Procedure URI
	Args      List
	KwArgs    Dict
}

// [CANCEL, CALL.Request|id, Options|dict]
type Cancel struct {
	Request ID
	Options Dict
}

// [RESULT, CALL.Request|id, Details|dict, Arguments|list, ArgumentsKw|dict]
type Result struct {
	Request ID
	Details Dict
	Args    List
	KwArgs  Dict
}

// [REGISTER, Request|id, Options|dict, Procedure|uri]
type Register struct {
	Request   ID
	Options   Dict
	Procedure URI
}

// [REGISTERED, REGISTER.Request|id, Registration|id]
type Registered struct {
	Request      ID
	Registration ID
}

// [UNREGISTER, Request|id, REGISTERED.Registration|id]
type Unregister struct {
	Request      ID
	Registration ID
}

// [UNREGISTERED, UNREGISTER.Request|id]
type Unregistered struct {
	Request ID
}

// [INVOCATION, Request|id, REGISTERED.Registration|id, Details|dict, Arguments|list, ArgumentsKw|dict]
type Invocation struct {
	Request      ID
	Registration ID
	Details      Dict
	Args         List
	KwArgs       Dict
}

// [INTERRUPT, INVOCATION.Request|id, Options|dict]
type Interrupt struct {
	Request ID
	Options Dict
}

// [YIELD, INVOCATION.Request|id, Options|dict, Arguments|list, ArgumentsKw|dict]
type Yield struct {
	Request ID
	Options Dict
	Args    List
	KwArgs  Dict
}

func (*Hello) MessageType() MessageType        { return MessageHello }
func (*Welcome) MessageType() MessageType      { return MessageWelcome }
func (*Abort) MessageType() MessageType        { return MessageAbort }
func (*Goodbye) MessageType() MessageType      { return MessageGoodbye }
func (*Error) MessageType() MessageType        { return MessageError }
func (*Publish) MessageType() MessageType      { return MessagePublish }
func (*Published) MessageType() MessageType    { return MessagePublished }
func (*Subscribe) MessageType() MessageType    { return MessageSubscribe }
func (*Subscribed) MessageType() MessageType   { return MessageSubscribed }
func (*Unsubscribe) MessageType() MessageType  { return MessageUnsubscribe }
func (*Unsubscribed) MessageType() MessageType { return MessageUnsubscribed }
func (*Event) MessageType() MessageType        { return MessageEvent }
func (*Call) MessageType() MessageType         { return MessageCall }
func (*Cancel) MessageType() MessageType       { return MessageCancel }
func (*Result) MessageType() MessageType       { return MessageResult }
func (*Register) MessageType() MessageType     { return MessageRegister }
func (*Registered) MessageType() MessageType   { return MessageRegistered }
func (*Unregister) MessageType() MessageType   { return MessageUnregister }
func (*Unregistered) MessageType() MessageType { return MessageUnregistered }
func (*Invocation) MessageType() MessageType   { return MessageInvocation }
func (*Interrupt) MessageType() MessageType    { return MessageInterrupt }
func (*Yield) MessageType() MessageType        { return MessageYield }
