package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// User is a patient account.
type User struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	Height            Measure `json:"height"`
	Weight            Measure `json:"weight"`
	BloodType         string  `json:"blood_type"`
	Gender            string  `json:"gender"`
	MedicalConditions *string `json:"medical_conditions"`
	EmailVerifiedAt   *string `json:"email_verified_at,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

type Doctor struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Height         Measure `json:"height"`
	Weight         Measure `json:"weight"`
	BloodType      *string `json:"blood_type"`
	Gender         string  `json:"gender"`
	Specialization string  `json:"specialization"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

type Admin struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Measure is a height or weight. The API sends these either as numbers or as
// numeric strings depending on the column type.
type Measure float64

func (m *Measure) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*m = Measure(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = Measure(f)
	return nil
}

func (m Measure) String() string {
	return strconv.FormatFloat(float64(m), 'f', -1, 64)
}
