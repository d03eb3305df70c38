package yuketang

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// flexInt64 handles JSON fields that can be "123" or 123. The platform is not
// consistent about id types across endpoints.
type flexInt64 int64

func (v *flexInt64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("id: invalid string %q", s)
		}
		*v = flexInt64(i)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("id: invalid json value: %s", string(b))
	}
	i, err := n.Int64()
	if err != nil {
		// Some endpoints report ids as floats.
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("id: not numeric: %s", n.String())
		}
		*v = flexInt64(int64(f))
		return nil
	}
	*v = flexInt64(i)
	return nil
}

// flexFloat64 handles JSON fields that can be "42", 42 or 42.5.
type flexFloat64 float64

func (v *flexFloat64) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*v = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*v = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number: invalid string %q", s)
		}
		*v = flexFloat64(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("number: invalid json value: %s", string(b))
	}
	*v = flexFloat64(f)
	return nil
}
