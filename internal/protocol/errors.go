package protocol

// Connection status codes carried by ERROR frames.
const (
	ErrNone                = 0
	ErrConnectFailed       = 1
	ErrUnknown             = 2
	ErrIncompatibleVersion = 3
	ErrServerFull          = 4
)

var codeText = map[int]string{
	ErrNone:                "none",
	ErrConnectFailed:       "connect failed",
	ErrUnknown:             "unknown error",
	ErrIncompatibleVersion: "incompatible version",
	ErrServerFull:          "server full",
}

func IsKnownCode(code int) bool {
	_, ok := codeText[code]
	return ok
}

func CodeText(code int) string {
	if s, ok := codeText[code]; ok {
		return s
	}
	return "unknown error"
}
