package pipeline

// Kind classifies a failure. Kinds are comparable sentinels, so callers can
// match them with errors.Is(err, pipeline.KindRange).
type Kind string

const (
	KindType                Kind = "type"
	KindRange               Kind = "range"
	KindIO                  Kind = "io"
	KindLoad                Kind = "load"
	KindSurface             Kind = "surface"
	KindEncode              Kind = "encode"
	KindHTTP                Kind = "http"
	KindNetwork             Kind = "network"
	KindSize                Kind = "size"
	KindNetworkOrProcessing Kind = "network_or_processing"
)

func (k Kind) Error() string {
	return string(k) + " error"
}

// Error is a classified failure with a human-readable message. Err carries
// the underlying cause when there is one.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NewError builds a classified error.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

const (
	msgNotLoaded      = "failed to load the image, the file might be corrupt or empty"
	msgQualityRange   = "quality must be greater than 0"
	msgDimensionRange = "invalid width or height value"
	msgBackground     = "invalid background color"
	msgReadBlob       = "failed to read the blob"
	msgSurface        = "failed to get drawing surface"
	msgEncode         = "failed to generate image blob"
)
