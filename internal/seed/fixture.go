// Package seed fills a store with demo data. Every write goes through the
// same session, interaction and chat paths a client uses, so counters and
// chat summaries come out consistent.
package seed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture is a declarative data set. Users are referred to by email.
type Fixture struct {
	Users    []User    `yaml:"users"`
	Posts    []Post    `yaml:"posts"`
	Messages []Message `yaml:"messages"`
}

type User struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	DOB       string `yaml:"dob,omitempty"`
	Bio       string `yaml:"bio,omitempty"`
}

type Post struct {
	Author   string    `yaml:"author"`
	Content  string    `yaml:"content"`
	ImageURL string    `yaml:"image_url,omitempty"`
	LikedBy  []string  `yaml:"liked_by,omitempty"`
	Comments []Comment `yaml:"comments,omitempty"`
}

type Comment struct {
	Author string `yaml:"author"`
	Text   string `yaml:"text"`
}

type Message struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Text string `yaml:"text"`
}

// ParseFixture decodes YAML and checks that every reference names a user.
func ParseFixture(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// Marshal encodes f as YAML.
func (f Fixture) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// Validate checks references between sections.
func (f Fixture) Validate() error {
	known := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		if u.Email == "" {
			return fmt.Errorf("fixture user without email")
		}
		if known[u.Email] {
			return fmt.Errorf("fixture user %s listed twice", u.Email)
		}
		known[u.Email] = true
	}
	check := func(where, email string) error {
		if !known[email] {
			return fmt.Errorf("%s refers to unknown user %q", where, email)
		}
		return nil
	}
	for i, p := range f.Posts {
		where := fmt.Sprintf("post %d", i)
		if err := check(where, p.Author); err != nil {
			return err
		}
		for _, l := range p.LikedBy {
			if err := check(where+" like", l); err != nil {
				return err
			}
		}
		for _, c := range p.Comments {
			if err := check(where+" comment", c.Author); err != nil {
				return err
			}
		}
	}
	for i, m := range f.Messages {
		where := fmt.Sprintf("message %d", i)
		if err := check(where, m.From); err != nil {
			return err
		}
		if err := check(where, m.To); err != nil {
			return err
		}
	}
	return nil
}
