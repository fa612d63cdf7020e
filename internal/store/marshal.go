package store

import (
	"encoding/json"

	"github.com/klauss/klauss/internal/model"
)

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func marshalHooks(v []model.VerificationHook) string {
	if v == nil {
		v = []model.VerificationHook{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalHooks(s string) []model.VerificationHook {
	if s == "" {
		return nil
	}
	var v []model.VerificationHook
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

func marshalOutcome(v *model.TaskOutcome) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalOutcome(s string) (*model.TaskOutcome, error) {
	if s == "" {
		return nil, nil
	}
	var v model.TaskOutcome
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
