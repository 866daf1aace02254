package chat

const apologyPrefix = "I apologize, but I encountered a system error. "

var apologies = map[ErrorKind]string{
	KindTransport:   "Unable to connect to my systems. Please check your connection and try again.",
	KindTimeout:     "My response is taking longer than expected. Please try again.",
	KindUnavailable: "My external systems are currently unavailable. Please try again in a moment.",
}

// Apology turns a failed exchange into the assistant's in-character reply.
func Apology(err *ExchangeError) string {
	if err == nil {
		return apologyPrefix + "Please try again."
	}
	if text, ok := apologies[err.Kind]; ok {
		return apologyPrefix + text
	}
	return apologyPrefix + "Please try again."
}
