package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/brianvoe/gofakeit/v6"
)

// GenerateOptions sizes a generated fixture.
type GenerateOptions struct {
	Users    int
	Posts    int
	Messages int
	// MaxLikes and MaxComments bound the engagement per post.
	MaxLikes    int
	MaxComments int
	// ImageRatio is the share of posts that carry a picture.
	ImageRatio float64
	Password   string
	Seed       int64
	Now        time.Time
}

func (o *GenerateOptions) defaults() {
	if o.Password == "" {
		o.Password = "password123"
	}
	if o.MaxLikes == 0 {
		o.MaxLikes = 5
	}
	if o.MaxComments == 0 {
		o.MaxComments = 3
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
}

// lettersOnly keeps the letters of s so generated names pass validation.
func lettersOnly(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, s)
	if s == "" {
		return "Sam"
	}
	return s
}

// Generate builds a random fixture. The same Seed gives the same fixture.
func Generate(opts GenerateOptions) Fixture {
	opts.defaults()
	faker := gofakeit.New(opts.Seed)
	r := rand.New(rand.NewSource(opts.Seed))

	var f Fixture
	for i := 0; i < opts.Users; i++ {
		first := lettersOnly(faker.FirstName())
		last := lettersOnly(faker.LastName())
		age := 18 + r.Intn(50)
		dob := opts.Now.AddDate(-age, -r.Intn(12), -r.Intn(28))
		f.Users = append(f.Users, User{
			Email:     fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i),
			Password:  opts.Password,
			FirstName: first,
			LastName:  last,
			DOB:       dob.Format("2006-01-02"),
			Bio:       truncate(faker.HipsterSentence(8), 160),
		})
	}
	if len(f.Users) == 0 {
		return f
	}

	pick := func() string { return f.Users[r.Intn(len(f.Users))].Email }

	for i := 0; i < opts.Posts; i++ {
		p := Post{
			Author:  pick(),
			Content: faker.Paragraph(1, 2, 12, " "),
		}
		if r.Float64() < opts.ImageRatio {
			p.ImageURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/800", faker.UUID())
		}
		liked := map[string]bool{}
		for n := r.Intn(opts.MaxLikes + 1); n > 0; n-- {
			if who := pick(); !liked[who] {
				liked[who] = true
				p.LikedBy = append(p.LikedBy, who)
			}
		}
		for n := r.Intn(opts.MaxComments + 1); n > 0; n-- {
			p.Comments = append(p.Comments, Comment{Author: pick(), Text: faker.Sentence(6)})
		}
		f.Posts = append(f.Posts, p)
	}

	if len(f.Users) > 1 {
		for i := 0; i < opts.Messages; i++ {
			from := r.Intn(len(f.Users))
			to := (from + 1 + r.Intn(len(f.Users)-1)) % len(f.Users)
			f.Messages = append(f.Messages, Message{
				From: f.Users[from].Email,
				To:   f.Users[to].Email,
				Text: faker.Sentence(5),
			})
		}
	}
	return f
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
