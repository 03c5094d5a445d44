package store

import (
	"encoding/json"
	"math"
	"time"

	"github.com/confscore/scoresync/internal/domain"
)

// presentationDoc is the wire shape of a presentation document.
// JudgeScores is kept raw so malformed caches (wrong type, junk
// entries) decode to a repairable state instead of failing the read.
type presentationDoc struct {
	ID             string          `json:"id"`
	Title          string          `json:"title,omitempty"`
	Authors        []string        `json:"authors,omitempty"`
	Room           string          `json:"room,omitempty"`
	ScheduledAt    time.Time       `json:"scheduledAt,omitempty"`
	JudgeScores    json.RawMessage `json:"judgeScores,omitempty"`
	JudgeTotal     float64         `json:"judgeTotal"`
	SpectatorLikes int             `json:"spectatorLikes"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// looseScore decodes a numeric score field leniently: a value that is
// not a number decodes to NaN instead of failing the document read,
// the same policy decodeScores applies to presentation caches.
// Normalization coerces the NaN to 0 downstream, and a NaN total or
// flat score is treated as absent by PayloadFromFields.
type looseScore float64

// UnmarshalJSON decodes a number, coercing anything else to NaN.
func (s *looseScore) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*s = looseScore(math.NaN())
		return nil
	}
	*s = looseScore(v)
	return nil
}

// ratingDoc is one per-category entry of a current-format vote.
type ratingDoc struct {
	CategoryID string     `json:"categoryId"`
	Score      looseScore `json:"score"`
}

// ratingList decodes the ratings field leniently: a value that is not
// a sequence of rating entries decodes to nil, so normalization falls
// through to the next score shape instead of the read failing.
type ratingList []ratingDoc

// UnmarshalJSON decodes the entry list, coercing junk to nil.
func (l *ratingList) UnmarshalJSON(data []byte) error {
	var entries []ratingDoc
	if err := json.Unmarshal(data, &entries); err != nil {
		*l = nil
		return nil
	}
	*l = entries
	return nil
}

// voteDoc is the wire shape of a vote document. The three historical
// score shapes appear as optional fields; a document may carry more
// than one at once (a stale cached total next to current ratings).
// domain.PayloadFromFields resolves the precedence exactly once here
// at the codec boundary. Score fields decode leniently because a
// malformed legacy vote is a data-integrity fault to aggregate around,
// not a reason to fail the whole listing that reconciliation reads.
type voteDoc struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	PresentationID string      `json:"presentationId"`
	Role           string      `json:"role,omitempty"`
	Score          *looseScore `json:"score,omitempty"`
	TotalScore     *looseScore `json:"totalScore,omitempty"`
	Ratings        ratingList  `json:"ratings,omitempty"`
	Timestamp      time.Time   `json:"timestamp,omitempty"`
}

func encodePresentation(p domain.Presentation) ([]byte, error) {
	doc := presentationDoc{
		ID:             p.ID,
		Title:          p.Title,
		Authors:        p.Authors,
		Room:           p.Room,
		ScheduledAt:    p.ScheduledAt,
		JudgeTotal:     p.JudgeTotal,
		SpectatorLikes: p.SpectatorLikes,
		LastUpdated:    p.LastUpdated,
	}
	if p.JudgeScores != nil {
		raw, err := json.Marshal(p.JudgeScores)
		if err != nil {
			return nil, err
		}
		doc.JudgeScores = raw
	}
	return json.Marshal(doc)
}

func decodePresentation(data []byte) (domain.Presentation, error) {
	var doc presentationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Presentation{}, err
	}
	return domain.Presentation{
		ID:             doc.ID,
		Title:          doc.Title,
		Authors:        doc.Authors,
		Room:           doc.Room,
		ScheduledAt:    doc.ScheduledAt,
		JudgeScores:    decodeScores(doc.JudgeScores),
		JudgeTotal:     doc.JudgeTotal,
		SpectatorLikes: doc.SpectatorLikes,
		LastUpdated:    doc.LastUpdated,
	}, nil
}

// decodeScores decodes a cached judgeScores field leniently. A
// missing field or a value that is not a sequence decodes to nil
// (missing cache); entries that are not numbers decode to NaN so
// HasMalformedScores flags the document for repair instead of the
// read failing outright.
func decodeScores(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}
	scores := make([]float64, 0, len(elems))
	for _, e := range elems {
		var v float64
		if err := json.Unmarshal(e, &v); err != nil {
			v = math.NaN()
		}
		scores = append(scores, v)
	}
	return scores
}

func encodeVote(v domain.Vote) ([]byte, error) {
	doc := voteDoc{
		ID:             v.ID,
		UserID:         v.UserID,
		PresentationID: v.PresentationID,
		Role:           string(v.Role),
		Timestamp:      v.Timestamp,
	}
	switch p := v.Payload.(type) {
	case domain.Ratings:
		for _, e := range p.Entries {
			doc.Ratings = append(doc.Ratings, ratingDoc{CategoryID: e.CategoryID, Score: looseScore(e.Score)})
		}
	case domain.TotalScore:
		total := looseScore(p.Total)
		doc.TotalScore = &total
	case domain.FlatScore:
		score := looseScore(p.Score)
		doc.Score = &score
	}
	return json.Marshal(doc)
}

func decodeVote(data []byte) (domain.Vote, error) {
	var doc voteDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Vote{}, err
	}
	var ratings []domain.CategoryRating
	for _, r := range doc.Ratings {
		ratings = append(ratings, domain.CategoryRating{CategoryID: r.CategoryID, Score: float64(r.Score)})
	}
	return domain.Vote{
		ID:             doc.ID,
		UserID:         doc.UserID,
		PresentationID: doc.PresentationID,
		Role:           domain.Role(doc.Role),
		Payload:        domain.PayloadFromFields(ratings, (*float64)(doc.TotalScore), (*float64)(doc.Score)),
		Timestamp:      doc.Timestamp,
	}, nil
}
