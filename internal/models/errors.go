package models

// RecoverableError is implemented by enriched errors that carry structured
// context and remediation hints. The store, server, and output packages all
// consume this interface; it lives here to avoid an import cycle.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}
