package model

import (
	"encoding/json"
	"fmt"
)

// ArtifactFormat is bumped when the serialised layout changes.
const ArtifactFormat = 1

// ArtifactPath is where a run stores its fitted model.
const ArtifactPath = "model/model.json"

type artifact struct {
	Format int             `json:"format"`
	Family string          `json:"family"`
	Params Params          `json:"params"`
	Model  json.RawMessage `json:"model"`
}

// Marshal serialises a fitted estimator of family.
func Marshal(family string, e Estimator) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s model: %w", family, err)
	}
	return json.MarshalIndent(artifact{
		Format: ArtifactFormat,
		Family: family,
		Params: e.Params(),
		Model:  body,
	}, "", "  ")
}

// Load restores an estimator written by Marshal and reports its family.
func Load(data []byte) (Estimator, string, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, "", fmt.Errorf("decode model artifact: %w", err)
	}
	if a.Format != ArtifactFormat {
		return nil, "", fmt.Errorf("model artifact format %d not supported", a.Format)
	}
	var e Estimator
	switch a.Family {
	case FamilyLogistic:
		e = &Logistic{}
	case FamilyGBDT:
		e = &GBDT{}
	default:
		return nil, "", fmt.Errorf("unknown model family %q", a.Family)
	}
	if err := json.Unmarshal(a.Model, e); err != nil {
		return nil, "", fmt.Errorf("decode %s model: %w", a.Family, err)
	}
	return e, a.Family, nil
}
