package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pithecene-io/arfor/types"
)

// ParseErrorKind classifies payload parse failures.
type ParseErrorKind int

const (
	// ParseErrorSyntax indicates the payload is not a JSON object.
	ParseErrorSyntax ParseErrorKind = iota
	// ParseErrorUnknownKind indicates a missing or unrecognized discriminator.
	ParseErrorUnknownKind
	// ParseErrorInvalid indicates a known kind with missing or bad fields.
	ParseErrorInvalid
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseErrorSyntax:
		return "syntax"
	case ParseErrorUnknownKind:
		return "unknown_kind"
	case ParseErrorInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("ParseErrorKind(%d)", int(k))
	}
}

// ParseError is returned for payloads that do not decode to an event.
// Every ParseError counts toward the consecutive parse failure limit.
type ParseError struct {
	Kind ParseErrorKind
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is a *ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// kindProbe peeks at the discriminator without decoding the variant.
// Older servers send event_type instead of kind.
type kindProbe struct {
	Kind      string `json:"kind"`
	EventType string `json:"event_type"`
}

func (p kindProbe) kind() types.EventKind {
	if p.Kind != "" {
		return types.EventKind(p.Kind)
	}
	return types.EventKind(p.EventType)
}

type stageUpdateWire struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

type sectionReadyWire struct {
	Section string  `json:"section"`
	Content *string `json:"content"`
}

type analysisCompleteWire struct {
	Result *types.AnalysisResult `json:"result"`
	Data   *types.AnalysisResult `json:"data"`
}

type analysisErrorWire struct {
	Detail string `json:"detail"`
}

// ParseEvent decodes one stream payload into an event.
// Unknown fields are ignored. All failures are *ParseError.
func ParseEvent(payload []byte) (types.Event, error) {
	var probe kindProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, &ParseError{Kind: ParseErrorSyntax, Msg: "failed to decode event", Err: err}
	}

	switch kind := probe.kind(); kind {
	case types.KindKeepalive:
		return types.Keepalive{}, nil
	case types.KindStageUpdate:
		return parseStageUpdate(payload)
	case types.KindSectionReady:
		return parseSectionReady(payload)
	case types.KindAnalysisComplete:
		return parseAnalysisComplete(payload)
	case types.KindAnalysisError:
		var w analysisErrorWire
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, invalid(kind, err)
		}
		return types.AnalysisError{Detail: w.Detail}, nil
	case "":
		return nil, &ParseError{Kind: ParseErrorUnknownKind, Msg: "event has no kind"}
	default:
		return nil, &ParseError{Kind: ParseErrorUnknownKind, Msg: fmt.Sprintf("unknown event kind %q", kind)}
	}
}

func parseStageUpdate(payload []byte) (types.Event, error) {
	var w stageUpdateWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, invalid(types.KindStageUpdate, err)
	}
	if w.Stage == "" {
		return nil, invalid(types.KindStageUpdate, errors.New("missing stage"))
	}
	status, err := types.ParseStageStatus(w.Status)
	if err != nil {
		return nil, invalid(types.KindStageUpdate, err)
	}
	return types.StageUpdate{Stage: w.Stage, Status: status, Detail: w.Detail}, nil
}

func parseSectionReady(payload []byte) (types.Event, error) {
	var w sectionReadyWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, invalid(types.KindSectionReady, err)
	}
	name, ok := types.ParseSectionName(w.Section)
	if !ok {
		return nil, invalid(types.KindSectionReady, fmt.Errorf("unknown section %q", w.Section))
	}
	if w.Content == nil {
		return nil, invalid(types.KindSectionReady, errors.New("missing content"))
	}
	return types.SectionReady{Section: name, Content: *w.Content}, nil
}

func parseAnalysisComplete(payload []byte) (types.Event, error) {
	var w analysisCompleteWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, invalid(types.KindAnalysisComplete, err)
	}
	result := w.Result
	if result == nil {
		result = w.Data
	}
	if result == nil {
		return nil, invalid(types.KindAnalysisComplete, errors.New("missing result"))
	}
	return types.AnalysisComplete{Result: *result}, nil
}

func invalid(kind types.EventKind, err error) *ParseError {
	return &ParseError{Kind: ParseErrorInvalid, Msg: fmt.Sprintf("invalid %s event", kind), Err: err}
}

// EncodeEvent renders an event in the canonical wire form.
// It is the inverse of ParseEvent and is used by replay and tests.
func EncodeEvent(e types.Event) ([]byte, error) {
	enc := &encoder{}
	e.Accept(enc)
	return json.Marshal(enc.out)
}

type encoder struct {
	out map[string]any
}

func (enc *encoder) VisitStageUpdate(e types.StageUpdate) {
	enc.out = map[string]any{
		"kind":   types.KindStageUpdate,
		"stage":  e.Stage,
		"status": e.Status,
		"detail": e.Detail,
	}
}

func (enc *encoder) VisitSectionReady(e types.SectionReady) {
	enc.out = map[string]any{
		"kind":    types.KindSectionReady,
		"section": e.Section,
		"content": e.Content,
	}
}

func (enc *encoder) VisitAnalysisComplete(e types.AnalysisComplete) {
	enc.out = map[string]any{
		"kind":   types.KindAnalysisComplete,
		"result": e.Result,
	}
}

func (enc *encoder) VisitAnalysisError(e types.AnalysisError) {
	enc.out = map[string]any{
		"kind":   types.KindAnalysisError,
		"detail": e.Detail,
	}
}

func (enc *encoder) VisitKeepalive(types.Keepalive) {
	enc.out = map[string]any{"kind": types.KindKeepalive}
}
