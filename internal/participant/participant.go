package participant

import (
	"time"

	"github.com/wichananm65/participant-service/internal/recordstore"
)

const (
	workFragment = "work"
	homeFragment = "home"
	activeField  = "active"
)

// Participant is the profile part of a participant record. Email is the
// record key.
type Participant struct {
	Email     string    `json:"email"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Dob       string    `json:"dob"`
	Active    bool      `json:"active"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

type WorkFragment struct {
	CompanyName string `json:"companyname"`
	Salary      Salary `json:"salary,omitempty"`
	Currency    string `json:"currency"`
}

type HomeFragment struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Salary holds the salary token exactly as the client sent it, a JSON
// number or a numeric string.
type Salary []byte

func (s Salary) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

func (s *Salary) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = nil
		return nil
	}
	*s = append((*s)[0:0], b...)
	return nil
}

// Input is the request body of create and update.
type Input struct {
	Email       string `json:"email"`
	Firstname   string `json:"firstname"`
	Lastname    string `json:"lastname"`
	Dob         string `json:"dob"`
	CompanyName string `json:"companyname"`
	Salary      Salary `json:"salary,omitempty"`
	Currency    string `json:"currency"`
	Country     string `json:"country"`
	City        string `json:"city"`
}

func (in Input) work() WorkFragment {
	return WorkFragment{CompanyName: in.CompanyName, Salary: in.Salary, Currency: in.Currency}
}

func (in Input) home() HomeFragment {
	return HomeFragment{Country: in.Country, City: in.City}
}

// Result is what create and update read back after writing.
type Result struct {
	Item Participant
	Work *WorkFragment
	Home *HomeFragment
}

// profileProps is the stored shape of the profile.
type profileProps struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Dob       string `json:"dob"`
	Active    bool   `json:"active"`
}

func profileDoc(in Input) (recordstore.Doc, error) {
	return recordstore.ToDoc(profileProps{
		Firstname: in.Firstname,
		Lastname:  in.Lastname,
		Dob:       in.Dob,
		Active:    true,
	})
}

func fromRecord(rec recordstore.Record) (Participant, error) {
	var props profileProps
	if err := recordstore.FromDoc(rec.Props, &props); err != nil {
		return Participant{}, err
	}
	return Participant{
		Email:     rec.Key,
		Firstname: props.Firstname,
		Lastname:  props.Lastname,
		Dob:       props.Dob,
		Active:    props.Active,
		Created:   rec.Created,
		Updated:   rec.Updated,
	}, nil
}

func fromRecords(recs []recordstore.Record) ([]Participant, error) {
	out := make([]Participant, 0, len(recs))
	for _, rec := range recs {
		p, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
