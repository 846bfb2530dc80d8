// Package correlate scores how likely two accounts observed on different
// servers belong to the same person. Scoring is pure: no I/O, no shared
// state, and identical inputs always produce identical scores.
package correlate

import (
	"sort"
	"strings"
	"time"

	"f0oster/dbspy/scan"
)

// MaxCandidates caps how many ranked matches are ever returned.
const MaxCandidates = 5

// Weights holds the per-criterion scoring weights. These defaults come from
// operational tuning and are configurable, not a contract.
type Weights struct {
	ExactMatch            float64
	UsernameSimilarity    float64
	EmailMatch            float64
	DisplayNameSimilarity float64
	PatternMatch          float64
	RoleSimilarity        float64
	CreationProximity     float64
}

// DefaultWeights returns the standard criterion weights.
func DefaultWeights() Weights {
	return Weights{
		ExactMatch:            1.0,
		UsernameSimilarity:    0.8,
		EmailMatch:            0.9,
		DisplayNameSimilarity: 0.7,
		PatternMatch:          0.6,
		RoleSimilarity:        0.5,
		CreationProximity:     0.3,
	}
}

// MatchCandidate pairs a known account with its match score against a
// candidate. Candidates are ephemeral; they live inside a notification
// payload at most.
type MatchCandidate struct {
	Account scan.AccountRecord `json:"account"`
	Score   float64            `json:"score"`
}

// Engine ranks candidate identity matches. It is safe for concurrent use.
type Engine struct {
	weights Weights
}

func NewEngine(weights Weights) *Engine {
	return &Engine{weights: weights}
}

// Score computes the match confidence, in [0,1], that candidate and known
// are the same person. A normalized exact username match short-circuits to
// a full-confidence score; otherwise the score is the weighted average over
// every criterion that fired. Criteria that do not apply (missing email,
// missing roles, ...) are excluded from both numerator and denominator.
func (e *Engine) Score(candidate, known scan.AccountRecord) float64 {
	// Separator-preserving form for structural pattern tests, stripped
	// form for direct comparison.
	light1 := patternForm(candidate.Username)
	light2 := patternForm(known.Username)
	username1 := normalizeUsername(candidate.Username)
	username2 := normalizeUsername(known.Username)

	if username1 == "" || username2 == "" {
		return 0
	}

	if username1 == username2 {
		return 1
	}

	var weightedSum, totalWeight float64
	add := func(weight, value float64) {
		weightedSum += weight * value
		totalWeight += weight
	}

	if similarity := stringSimilarity(username1, username2); similarity > 0.3 {
		add(e.weights.UsernameSimilarity, similarity)
	}
	if patternScore := patternSimilarity(light1, light2); patternScore > 0 {
		add(e.weights.PatternMatch, patternScore)
	}

	if candidate.Email != "" && known.Email != "" {
		if strings.EqualFold(candidate.Email, known.Email) {
			add(e.weights.EmailMatch, 1)
		} else if similarity := stringSimilarity(emailLocalPart(candidate.Email), emailLocalPart(known.Email)); similarity > 0.5 {
			add(e.weights.EmailMatch, similarity*0.7)
		}
	}

	if candidate.DisplayName != "" && known.DisplayName != "" {
		if similarity := stringSimilarity(candidate.DisplayName, known.DisplayName); similarity > 0.4 {
			add(e.weights.DisplayNameSimilarity, similarity)
		}
	}

	if overlap := jaccard(candidate.Roles, known.Roles); overlap > 0.2 {
		add(e.weights.RoleSimilarity, overlap)
	}

	if proximity := timeProximity(creationTime(candidate), creationTime(known)); proximity > 0.1 {
		add(e.weights.CreationProximity, proximity)
	}

	if totalWeight == 0 {
		return 0
	}
	confidence := weightedSum / totalWeight
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// Rank scores candidate against every known account and returns at most
// MaxCandidates matches with score >= minConfidence, sorted descending.
// Ties break on the known account's diff key so the order is deterministic.
func (e *Engine) Rank(candidate scan.AccountRecord, known []scan.AccountRecord, minConfidence float64) []MatchCandidate {
	var matches []MatchCandidate
	for _, account := range known {
		if score := e.Score(candidate, account); score >= minConfidence {
			matches = append(matches, MatchCandidate{Account: account, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Account.Key() < matches[j].Account.Key()
	})

	if len(matches) > MaxCandidates {
		matches = matches[:MaxCandidates]
	}
	return matches
}

// Recommendation classifies a top match score into the follow-up a reviewer
// should take.
type Recommendation string

const (
	RecommendAutoApprove     Recommendation = "auto_approve"
	RecommendSuggestApproval Recommendation = "suggest_approval"
	RecommendManualReview    Recommendation = "manual_review"
	RecommendCreateNewUser   Recommendation = "create_new_user"
)

// Recommend maps a top match confidence to a reviewer recommendation.
func Recommend(topScore float64) Recommendation {
	switch {
	case topScore >= 0.9:
		return RecommendAutoApprove
	case topScore >= 0.7:
		return RecommendSuggestApproval
	case topScore >= 0.4:
		return RecommendManualReview
	default:
		return RecommendCreateNewUser
	}
}

func emailLocalPart(email string) string {
	email = strings.ToLower(email)
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}

// creationTime falls back to the scan time when the dialect does not expose
// an account creation timestamp.
func creationTime(account scan.AccountRecord) time.Time {
	if account.CreatedAt != nil {
		return *account.CreatedAt
	}
	return account.ScanTime
}

// timeProximity buckets the distance between two creation timestamps. Only
// the records' own timestamps feed this; evaluation time never does.
func timeProximity(t1, t2 time.Time) float64 {
	if t1.IsZero() || t2.IsZero() {
		return 0
	}
	diff := t1.Sub(t2)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff < time.Hour:
		return 0.9
	case diff < 24*time.Hour:
		return 0.7
	case diff < 7*24*time.Hour:
		return 0.5
	case diff < 30*24*time.Hour:
		return 0.3
	default:
		return 0.1
	}
}
