package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/parser"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/vietddude/walletd/internal/core/domain"
	"github.com/vietddude/walletd/internal/infra/rpc/provider"
)

const (
	eventExtrinsicSuccess = "System.ExtrinsicSuccess"
	eventExtrinsicFailed  = "System.ExtrinsicFailed"
)

// errNoOutcome is returned when the block's events carry no result for the
// extrinsic.
var errNoOutcome = errors.New("no outcome event for extrinsic")

// runtimeMeta is decoded metadata for one runtime spec version.
type runtimeMeta struct {
	meta   *types.Metadata
	events registry.EventRegistry
}

// dispatchOutcome reads System.Events at block and reports whether ext
// dispatched. A nil error with a nil DispatchError means success.
func (c *Client) dispatchOutcome(ctx context.Context, ext []byte, block string) (*domain.DispatchError, error) {
	index, err := c.extrinsicIndex(ctx, ext, block)
	if err != nil {
		return nil, err
	}
	rm, err := c.metadataAt(ctx, block)
	if err != nil {
		return nil, err
	}

	raw, err := c.t.Call(ctx, "state_getStorage", []any{EventsStorageKey(), block})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if provider.IsNull(raw) {
		return nil, fmt.Errorf("read events: %w", errNoOutcome)
	}
	b, err := decodeHex(raw)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	sd := types.StorageDataRaw(b)
	events, err := parser.NewEventParser().ParseEvents(rm.events, &sd)
	if err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}

	for _, ev := range events {
		if ev.Phase == nil || !ev.Phase.IsApplyExtrinsic || ev.Phase.AsApplyExtrinsic != index {
			continue
		}
		switch ev.Name {
		case eventExtrinsicSuccess:
			return nil, nil
		case eventExtrinsicFailed:
			return rm.dispatchError(ev.Fields), nil
		}
	}
	return nil, fmt.Errorf("extrinsic %d in %s: %w", index, block, errNoOutcome)
}

// extrinsicIndex finds ext among the extrinsics of block.
func (c *Client) extrinsicIndex(ctx context.Context, ext []byte, block string) (uint32, error) {
	raw, err := c.t.Call(ctx, "chain_getBlock", []any{block})
	if err != nil {
		return 0, fmt.Errorf("read block: %w", err)
	}
	var signed struct {
		Block struct {
			Extrinsics []string `json:"extrinsics"`
		} `json:"block"`
	}
	if err := json.Unmarshal(raw, &signed); err != nil {
		return 0, fmt.Errorf("decode block: %w", err)
	}

	want := "0x" + hex.EncodeToString(ext)
	for i, x := range signed.Block.Extrinsics {
		if strings.EqualFold(x, want) {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("extrinsic not found in block %s", block)
}

// metadataAt returns the runtime metadata in force at block, cached per
// spec version.
func (c *Client) metadataAt(ctx context.Context, block string) (*runtimeMeta, error) {
	raw, err := c.t.Call(ctx, "state_getRuntimeVersion", []any{block})
	if err != nil {
		return nil, fmt.Errorf("runtime version: %w", err)
	}
	var rv RuntimeVersion
	if err := json.Unmarshal(raw, &rv); err != nil {
		return nil, fmt.Errorf("decode runtime version: %w", err)
	}

	c.mu.Lock()
	rm, ok := c.meta[rv.SpecVersion]
	c.mu.Unlock()
	if ok {
		return rm, nil
	}

	raw, err = c.t.Call(ctx, "state_getMetadata", []any{block})
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	var metaHex string
	if err := json.Unmarshal(raw, &metaHex); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	var meta types.Metadata
	if err := codec.DecodeFromHex(metaHex, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if meta.Version != 14 {
		return nil, fmt.Errorf("unsupported metadata version %d", meta.Version)
	}
	events, err := registry.NewFactory().CreateEventRegistry(&meta)
	if err != nil {
		return nil, fmt.Errorf("event registry: %w", err)
	}

	rm = &runtimeMeta{meta: &meta, events: events}
	c.mu.Lock()
	c.meta[rv.SpecVersion] = rm
	c.mu.Unlock()
	c.log.Debug("Loaded runtime metadata", "spec_version", rv.SpecVersion)
	return rm, nil
}

// dispatchError renders the dispatch_error field of System.ExtrinsicFailed.
func (rm *runtimeMeta) dispatchError(fields registry.DecodedFields) *domain.DispatchError {
	if len(fields) == 0 {
		return &domain.DispatchError{Kind: "Unknown"}
	}
	field := fields[0]
	for _, f := range fields {
		if f.Name == "dispatch_error" {
			field = f
			break
		}
	}

	variant, inner, ok := rm.variantOf(field.LookupIndex, field.Value)
	if !ok {
		return &domain.DispatchError{Kind: "Unknown"}
	}
	de := &domain.DispatchError{Kind: string(variant.Name)}
	if len(variant.Fields) == 0 || inner == nil {
		return de
	}

	if de.Kind == "Module" {
		de.Module = rm.moduleError(inner.Value)
		return de
	}
	// Token, Arithmetic and Transactional wrap a unit enum.
	if sub, _, ok := rm.variantOf(inner.LookupIndex, inner.Value); ok {
		de.Detail = string(sub.Name)
	}
	return de
}

// variantOf identifies which variant of enum type id a decoded value holds.
// Unit variants decode to their index byte, data variants to their fields.
func (rm *runtimeMeta) variantOf(id int64, value any) (types.Si1Variant, *registry.DecodedField, bool) {
	def, ok := rm.typeDef(id)
	if !ok || !def.IsVariant {
		return types.Si1Variant{}, nil, false
	}
	variants := def.Variant.Variants

	if idx, ok := asUint(value); ok {
		for _, v := range variants {
			if uint64(v.Index) == idx {
				return v, nil, true
			}
		}
		return types.Si1Variant{}, nil, false
	}

	fields, ok := value.(registry.DecodedFields)
	if !ok || len(fields) == 0 {
		return types.Si1Variant{}, nil, false
	}
	inner := fields[0]
	for _, v := range variants {
		if len(v.Fields) == len(fields) && v.Fields[0].Type.Int64() == inner.LookupIndex {
			return v, inner, true
		}
	}
	return types.Si1Variant{}, nil, false
}

// moduleError resolves a ModuleError {index, error} to pallet and error
// names.
func (rm *runtimeMeta) moduleError(value any) *domain.ModuleError {
	me := &domain.ModuleError{}
	fields, ok := value.(registry.DecodedFields)
	if !ok {
		return me
	}
	var index, errField *registry.DecodedField
	for _, f := range fields {
		switch f.Name {
		case "index":
			index = f
		case "error":
			errField = f
		}
	}
	if index == nil && errField == nil && len(fields) == 2 {
		index, errField = fields[0], fields[1]
	}
	if index != nil {
		if v, ok := asUint(index.Value); ok {
			me.Index = uint8(v)
		}
	}
	if errField != nil {
		// Runtimes before the 4-byte error encoding carry a single u8.
		if v, ok := asUint(errField.Value); ok {
			me.Error[0] = byte(v)
		} else {
			copy(me.Error[:], asBytes(errField.Value))
		}
	}

	for _, p := range rm.meta.AsMetadataV14.Pallets {
		if uint8(p.Index) != me.Index {
			continue
		}
		me.Pallet = string(p.Name)
		if !p.HasErrors {
			break
		}
		if def, ok := rm.typeDef(p.Errors.Type.Int64()); ok && def.IsVariant {
			for _, v := range def.Variant.Variants {
				if uint8(v.Index) == me.Error[0] {
					me.Name = string(v.Name)
				}
			}
		}
		break
	}
	return me
}

func (rm *runtimeMeta) typeDef(id int64) (types.Si1TypeDef, bool) {
	t, ok := rm.meta.AsMetadataV14.EfficientLookup[id]
	if !ok || t == nil {
		return types.Si1TypeDef{}, false
	}
	return t.Def, true
}

// asUint reads an unsigned integer out of a decoded primitive.
func asUint(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	}
	return 0, false
}

// asBytes reads a decoded fixed byte array, either as a byte slice or array
// or as a list of decoded u8 values.
func asBytes(v any) []byte {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]byte, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		if elem.Kind() == reflect.Interface {
			elem = elem.Elem()
		}
		b, ok := asUint(elem.Interface())
		if !ok {
			return nil
		}
		out = append(out, byte(b))
	}
	return out
}
