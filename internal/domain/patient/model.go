package patient

import (
	"encoding/json"
	"fmt"
	"math"
)

// Verdict labels derived from BMI.
const (
	VerdictUnderweight = "Underweight"
	VerdictNormal      = "Normal weight"
	VerdictOverweight  = "Overweight"
	VerdictObese       = "Obese"
	VerdictUnavailable = "N/A"
)

// Patient is a single patient record. ID is the collection key and is never
// written into the stored value.
type Patient struct {
	ID     string  `json:"id" validate:"required"`
	Name   string  `json:"name" validate:"required"`
	City   string  `json:"city" validate:"required"`
	Age    Age     `json:"age" validate:"gt=0,lt=120"`
	Gender string  `json:"gender" validate:"required,oneof=male female other"`
	Height float64 `json:"height" validate:"gt=0"`
	Weight float64 `json:"weight" validate:"gt=0"`
}

// Age is a whole number of years. Integral JSON numbers written with a
// fractional part, such as 30.0, are accepted.
type Age int

func (a *Age) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return fmt.Errorf("age must be a whole number, got %s", data)
	}
	*a = Age(f)
	return nil
}

// BMI returns weight / height² rounded to two decimal places.
func (p *Patient) BMI() float64 {
	if p.Height <= 0 {
		return 0
	}
	return math.Round(p.Weight/(p.Height*p.Height)*100) / 100
}

// finiteBMI reports whether height and weight produce a BMI that can be
// represented in JSON. Tiny heights or huge weights overflow to +Inf.
func (p *Patient) finiteBMI() bool {
	bmi := p.BMI()
	return !math.IsInf(bmi, 0) && !math.IsNaN(bmi)
}

// Verdict classifies the rounded BMI.
func (p *Patient) Verdict() string {
	return VerdictFor(p.BMI())
}

// VerdictFor maps a BMI value onto its weight-status band.
func VerdictFor(bmi float64) string {
	switch {
	case bmi < 18.5:
		return VerdictUnderweight
	case bmi < 25:
		return VerdictNormal
	case bmi < 30:
		return VerdictOverweight
	default:
		return VerdictObese
	}
}

// Record is a patient as returned by read endpoints, with derived metrics.
type Record struct {
	Patient
	BMI     float64 `json:"bmi"`
	Verdict string  `json:"verdict"`
}

// ToRecord attaches the derived metrics computed from the current height
// and weight.
func (p *Patient) ToRecord() *Record {
	return &Record{Patient: *p, BMI: p.BMI(), Verdict: p.Verdict()}
}

// storedPatient is the persisted value shape: every field except the id.
type storedPatient struct {
	Name   string  `json:"name"`
	City   string  `json:"city"`
	Age    Age     `json:"age"`
	Gender string  `json:"gender"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

func (p *Patient) stored() storedPatient {
	return storedPatient{
		Name:   p.Name,
		City:   p.City,
		Age:    p.Age,
		Gender: p.Gender,
		Height: p.Height,
		Weight: p.Weight,
	}
}

func (s storedPatient) withID(id string) *Patient {
	return &Patient{
		ID:     id,
		Name:   s.Name,
		City:   s.City,
		Age:    s.Age,
		Gender: s.Gender,
		Height: s.Height,
		Weight: s.Weight,
	}
}

// encode marshals the persisted form of p.
func (p *Patient) encode() (json.RawMessage, error) {
	return json.Marshal(p.stored())
}

// decodeStored unmarshals a stored value into a Patient carrying id. Unknown
// keys (for example bmi or verdict written by older versions) are ignored.
func decodeStored(id string, raw json.RawMessage) (*Patient, error) {
	var s storedPatient
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s.withID(id), nil
}

// decodeStoredLenient decodes each field of raw on its own and leaves the
// ones with an unexpected type at their zero values.
func decodeStoredLenient(id string, raw json.RawMessage) *Patient {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(raw, &fields)

	var s storedPatient
	targets := map[string]any{
		"name":   &s.Name,
		"city":   &s.City,
		"age":    &s.Age,
		"gender": &s.Gender,
		"height": &s.Height,
		"weight": &s.Weight,
	}
	for key, dst := range targets {
		if v, ok := fields[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	return s.withID(id)
}

// Optional tracks whether a JSON field was present in the request body. An
// explicit null counts as present and leaves Value at its zero value.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// PatientUpdate is a partial update. Only fields present in the request are
// applied.
type PatientUpdate struct {
	Name   Optional[string]  `json:"name"`
	City   Optional[string]  `json:"city"`
	Age    Optional[Age]     `json:"age"`
	Gender Optional[string]  `json:"gender"`
	Height Optional[float64] `json:"height"`
	Weight Optional[float64] `json:"weight"`
}

// ApplyTo overlays the supplied fields onto p.
func (u *PatientUpdate) ApplyTo(p *Patient) {
	if u.Name.Set {
		p.Name = u.Name.Value
	}
	if u.City.Set {
		p.City = u.City.Value
	}
	if u.Age.Set {
		p.Age = u.Age.Value
	}
	if u.Gender.Set {
		p.Gender = u.Gender.Value
	}
	if u.Height.Set {
		p.Height = u.Height.Value
	}
	if u.Weight.Set {
		p.Weight = u.Weight.Value
	}
}
