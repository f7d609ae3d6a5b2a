package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "job-invoker-shared-secret-12345"

func TestSecretString_String(t *testing.T) {
	s := SecretString(testSecret)

	result := s.String()

	if result != redactedPlaceholder {
		t.Errorf("String() = %q, want %q", result, redactedPlaceholder)
	}
	if strings.Contains(result, testSecret) {
		t.Errorf("String() leaked the raw secret value")
	}
}

func TestSecretString_Sprintf(t *testing.T) {
	s := SecretString(testSecret)

	// Both %s and %v go through the fmt.Stringer interface.
	for _, verb := range []string{"%s", "%v"} {
		result := fmt.Sprintf("secret="+verb, s)
		if strings.Contains(result, testSecret) {
			t.Errorf("fmt.Sprintf(%s) leaked the raw secret: %s", verb, result)
		}
		if result != "secret="+redactedPlaceholder {
			t.Errorf("fmt.Sprintf(%s) = %q, want the redacted placeholder", verb, result)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	s := SecretString(testSecret)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("MarshalJSON returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("MarshalJSON leaked the raw secret: %s", data)
	}
	if string(data) != `"`+redactedPlaceholder+`"` {
		t.Errorf("MarshalJSON = %s, want the redacted placeholder", data)
	}
}

func TestSecretString_MarshalJSONInsideStruct(t *testing.T) {
	payload := struct {
		URL SecretString `json:"url"`
	}{URL: SecretString("postgres://user:" + testSecret + "@host/db")}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("struct marshalling leaked the raw secret: %s", data)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)

	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want the raw value", s.Unmask())
	}
}

func TestSecretString_EmptyValue(t *testing.T) {
	var s SecretString

	if s.Unmask() != "" {
		t.Errorf("empty secret Unmask() = %q, want empty", s.Unmask())
	}
	// Even an empty secret stringifies to the placeholder; callers must not be
	// able to infer whether a secret is set from log output.
	if s.String() != redactedPlaceholder {
		t.Errorf("empty secret String() = %q, want %q", s.String(), redactedPlaceholder)
	}
}
