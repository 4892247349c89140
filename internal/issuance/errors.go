package issuance

import "errors"

var (
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrNotEligible         = errors.New("not eligible")
	ErrNoNameOnRecord      = errors.New("no name on record")
	ErrTemplateUnavailable = errors.New("template unavailable")
	ErrRender              = errors.New("render failed")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Kind is a stable label for an issuance failure, used in metrics and logs.
type Kind string

const (
	KindNone                Kind = ""
	KindInvalidPayload      Kind = "invalid_payload"
	KindNotEligible         Kind = "not_eligible"
	KindNoNameOnRecord      Kind = "no_name_on_record"
	KindTemplateUnavailable Kind = "template_unavailable"
	KindRender              Kind = "render_failure"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindInternal            Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidPayload, KindInvalidPayload},
	{ErrNotEligible, KindNotEligible},
	{ErrNoNameOnRecord, KindNoNameOnRecord},
	{ErrTemplateUnavailable, KindTemplateUnavailable},
	{ErrRender, KindRender},
	{ErrStoreUnavailable, KindStoreUnavailable},
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
