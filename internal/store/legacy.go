package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// legacyPrefix scopes the keys taken from a legacy export.
const legacyPrefix = "iphone_"

// readLegacy reads a legacy export: a JSON object mapping store keys to
// either the stored JSON text (as the browser kept it) or the value itself.
// Known containers are decoded and re-encoded so ids, message types and old
// memory lists come out normalized. Other keys with the legacy prefix are
// carried verbatim.
func readLegacy(path string) (map[string][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read legacy export: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := decode(data, &entries); err != nil {
		return nil, fmt.Errorf("decode legacy export: %w", err)
	}

	out := make(map[string][]byte, len(entries))
	for key, raw := range entries {
		if !strings.HasPrefix(key, legacyPrefix) {
			continue
		}
		value, err := unwrapLegacy(raw)
		if err != nil {
			return nil, fmt.Errorf("legacy %s: %w", key, err)
		}
		normalized, err := normalizeLegacy(key, value)
		if err != nil {
			return nil, fmt.Errorf("legacy %s: %w", key, err)
		}
		out[key] = normalized
	}
	return out, nil
}

// unwrapLegacy turns a JSON string holding JSON text into that text.
func unwrapLegacy(raw json.RawMessage) ([]byte, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, `"`) {
		return []byte(trimmed), nil
	}
	var inner string
	if err := decode([]byte(trimmed), &inner); err != nil {
		return nil, err
	}
	return []byte(inner), nil
}

func normalizeLegacy(key string, value []byte) ([]byte, error) {
	var v any
	switch key {
	case KeySettings:
		v = &Settings{}
	case KeyContacts:
		v = &[]Contact{}
	case KeyChats:
		v = &Chats{}
	case KeyWorldBook:
		v = &WorldBook{}
	case KeyMemories:
		v = &Memories{}
	case KeyCouple:
		v = &Couple{}
	case KeyCalendar:
		v = &Calendar{}
	case KeyStickers:
		v = &[]Sticker{}
	default:
		return value, nil
	}
	if err := decode(value, v); err != nil {
		return nil, err
	}
	return encode(v)
}
