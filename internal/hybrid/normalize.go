package hybrid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tremedam/Agendamento-Pro/internal/overlay"
)

// Canonical payload keys the engine reasons about.
const (
	keyDescription = "description"
	keyProduct     = "product"
	keyQuantity    = "quantity"
)

// legacyKeys maps field names still sent by older clients onto the canonical
// ones. A canonical key present in the same payload wins.
var legacyKeys = map[string]string{
	"descricao":   keyDescription,
	"produto":     keyProduct,
	"quantidade":  keyQuantity,
	"qtde":        keyQuantity,
	"fornecedor":  "supplier",
	"observacoes": "notes",
	"loja":        "store",
}

// normalizePayload returns a copy of in with legacy keys renamed, string
// values trimmed and NFC-normalized, and description/product kept in sync:
// whichever of the two is set fills the other. The id key is dropped.
func normalizePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		if _, legacy := legacyKeys[k]; legacy {
			continue
		}
		out[k] = cleanValue(v)
	}
	for legacy, canonical := range legacyKeys {
		v, ok := in[legacy]
		if !ok {
			continue
		}
		if _, exists := out[canonical]; !exists {
			out[canonical] = cleanValue(v)
		}
	}
	delete(out, overlay.KeyID)

	desc, hasDesc := nonEmptyString(out[keyDescription])
	prod, hasProd := nonEmptyString(out[keyProduct])
	switch {
	case hasProd && !hasDesc:
		out[keyDescription] = prod
	case hasDesc && !hasProd:
		out[keyProduct] = desc
	}
	return out
}

func cleanValue(v any) any {
	if s, ok := v.(string); ok {
		return norm.NFC.String(strings.TrimSpace(s))
	}
	return v
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// quantityOf extracts a numeric quantity. present is false when the key is
// absent or null.
func quantityOf(payload map[string]any) (qty float64, present bool, err error) {
	v, ok := payload[keyQuantity]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: quantity must be a number", overlay.ErrValidation)
		}
		return f, true, nil
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, true, fmt.Errorf("%w: quantity must be a number", overlay.ErrValidation)
		}
		return f, true, nil
	}
	return 0, true, fmt.Errorf("%w: quantity must be a number", overlay.ErrValidation)
}
