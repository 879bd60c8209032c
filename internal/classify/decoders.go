package classify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/manifest-network/eventstream/internal/models"
)

const (
	eventTypeNewBlock       = "tendermint/event/NewBlock"
	eventTypeNewBlockHeader = "tendermint/event/NewBlockHeader"
)

// envelope is the JSON-RPC 2.0 frame every websocket message arrives in.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

func parseEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON-RPC envelope: %w", err)
	}
	return &env, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// asObject returns the fields of raw, or nil when raw is not a JSON object.
func asObject(raw json.RawMessage) map[string]json.RawMessage {
	if !present(raw) {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// ErrorDecoder claims error envelopes. It runs first so error shapes are never mistaken
// for successful payloads.
type ErrorDecoder struct{}

func (ErrorDecoder) Name() string  { return "error" }
func (ErrorDecoder) Priority() int { return 0 }

func (ErrorDecoder) Decode(raw []byte) (*Message, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	var rpcErr *RPCError
	if obj := asObject(env.Error); obj != nil {
		rpcErr, err = toRPCError(obj)
	} else if obj := asObject(env.Result); obj != nil {
		// Errors come wrapped in a "response" object, or directly in the result.
		if resp := asObject(obj["response"]); resp != nil {
			rpcErr, err = toRPCError(resp)
		} else {
			rpcErr, err = toRPCError(obj)
		}
	}
	if err != nil || rpcErr == nil {
		return nil, err
	}

	if rpcErr.IsPanic() {
		return &Message{Kind: KindPanic, Err: rpcErr}, nil
	}
	return &Message{Kind: KindError, Err: rpcErr}, nil
}

func toRPCError(obj map[string]json.RawMessage) (*RPCError, error) {
	rawCode, ok := obj["code"]
	if !ok {
		return nil, nil
	}
	e := &RPCError{}
	if err := json.Unmarshal(rawCode, &e.Code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal error code: %w", err)
	}
	e.Log = stringField(obj["log"])
	e.Message = stringField(obj["message"])
	e.Data = stringField(obj["data"])
	return e, nil
}

// stringField returns a JSON string's value, or the raw JSON text for any other type.
func stringField(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

type eventData struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type eventResult struct {
	Query string     `json:"query"`
	Data  *eventData `json:"data"`
}

// eventValue extracts result.data.value when result.data.type equals eventType.
func eventValue(raw []byte, eventType string) (json.RawMessage, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if !present(env.Result) {
		return nil, nil
	}
	var res eventResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, nil
	}
	if res.Data == nil || res.Data.Type != eventType {
		return nil, nil
	}
	if !present(res.Data.Value) {
		return nil, fmt.Errorf("%s event without value", eventType)
	}
	return res.Data.Value, nil
}

// NewBlockDecoder claims tm.event='NewBlock' notifications.
type NewBlockDecoder struct{}

func (NewBlockDecoder) Name() string  { return "new_block" }
func (NewBlockDecoder) Priority() int { return 10 }

func (NewBlockDecoder) Decode(raw []byte) (*Message, error) {
	value, err := eventValue(raw, eventTypeNewBlock)
	if err != nil || value == nil {
		return nil, err
	}
	var v struct {
		Block *models.Block `json:"block"`
	}
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal NewBlock value: %w", err)
	}
	if v.Block == nil {
		return nil, fmt.Errorf("NewBlock event without block")
	}
	return &Message{Kind: KindNewBlock, Block: v.Block}, nil
}

// NewBlockHeaderDecoder claims tm.event='NewBlockHeader' notifications.
type NewBlockHeaderDecoder struct{}

func (NewBlockHeaderDecoder) Name() string  { return "new_block_header" }
func (NewBlockHeaderDecoder) Priority() int { return 20 }

func (NewBlockHeaderDecoder) Decode(raw []byte) (*Message, error) {
	value, err := eventValue(raw, eventTypeNewBlockHeader)
	if err != nil || value == nil {
		return nil, err
	}
	var v struct {
		Header *models.BlockHeader `json:"header"`
	}
	if err := json.Unmarshal(value, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal NewBlockHeader value: %w", err)
	}
	if v.Header == nil {
		return nil, fmt.Errorf("NewBlockHeader event without header")
	}
	return &Message{Kind: KindNewBlockHeader, Header: v.Header}, nil
}

// EmptyDecoder claims the empty result the node sends to acknowledge a subscription.
type EmptyDecoder struct{}

func (EmptyDecoder) Name() string  { return "empty" }
func (EmptyDecoder) Priority() int { return 30 }

func (EmptyDecoder) Decode(raw []byte) (*Message, error) {
	env, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if present(env.Error) {
		return nil, nil
	}
	obj := asObject(env.Result)
	if obj == nil || len(obj) != 0 {
		return nil, nil
	}
	return &Message{Kind: KindEmpty}, nil
}
