package progress

import (
	"fmt"
	"time"

	"github.com/jonathan/levelup/internal/codec"
	"github.com/jonathan/levelup/internal/curriculum"
)

// Document field names.
const (
	fieldCurrentStage   = "currentStage"
	fieldUnlockedStages = "unlockedStages"
	fieldExperience     = "experience"
	fieldRank           = "rank"
	fieldBadges         = "badgesEarned"
	fieldTasks          = "tasks"
	fieldDisplayName    = "displayName"
	fieldEmail          = "email"
	fieldAvatarURL      = "avatarUrl"
	fieldLastSeen       = "lastSeen"

	fieldBestScore    = "bestScore"
	fieldAttempts     = "attempts"
	fieldScore        = "score"
	fieldTimestamp    = "timestamp"
	fieldSourceRef    = "sourceRef"
	fieldReport       = "report"
	fieldSubmissionID = "submissionId"
)

// DocumentError reports a stored field whose type or content cannot be read.
type DocumentError struct {
	Field  string
	Reason string
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("malformed field %s: %s", e.Field, e.Reason)
}

// encodeState renders the state as a document body.
func encodeState(s *UserState) (codec.Map, error) {
	unlocked := make([]any, len(s.UnlockedStages))
	for i, id := range s.UnlockedStages {
		unlocked[i] = int64(id)
	}
	badges := make([]any, len(s.BadgesEarned))
	for i, b := range s.BadgesEarned {
		badges[i] = b
	}

	tasks := make(map[string]any, len(s.Tasks))
	for key, ts := range s.Tasks {
		attempts := make([]any, len(ts.Attempts))
		for i, a := range ts.Attempts {
			m := map[string]any{
				fieldScore:     int64(a.Score),
				fieldTimestamp: formatTime(a.Timestamp),
				fieldSourceRef: a.SourceRef,
				fieldReport:    a.Report,
			}
			if a.SubmissionID != "" {
				m[fieldSubmissionID] = a.SubmissionID
			}
			attempts[i] = m
		}
		tasks[key] = map[string]any{
			fieldBestScore: int64(ts.BestScore),
			fieldAttempts:  attempts,
		}
	}

	return codec.EncodeMap(map[string]any{
		fieldCurrentStage:   int64(s.CurrentStage),
		fieldUnlockedStages: unlocked,
		fieldExperience:     int64(s.Experience),
		fieldRank:           s.Rank,
		fieldBadges:         badges,
		fieldTasks:          tasks,
		fieldDisplayName:    s.Profile.DisplayName,
		fieldEmail:          s.Profile.Email,
		fieldAvatarURL:      s.Profile.AvatarURL,
		fieldLastSeen:       formatTime(s.Profile.LastSeen),
	})
}

// decodeState reads a document body. Missing fields take their defaults;
// fields of the wrong type fail with *DocumentError.
func decodeState(c *curriculum.Catalog, fields codec.Map) (*UserState, error) {
	raw, err := codec.DecodeMap(fields)
	if err != nil {
		return nil, err
	}
	r := reader{m: raw}

	s := &UserState{
		CurrentStage:   r.getInt(fieldCurrentStage),
		UnlockedStages: r.getInts(fieldUnlockedStages),
		Experience:     r.getInt(fieldExperience),
		Rank:           r.getString(fieldRank),
		BadgesEarned:   r.getStrings(fieldBadges),
		Tasks:          make(map[string]TaskState),
		Profile: Profile{
			DisplayName: r.getString(fieldDisplayName),
			Email:       r.getString(fieldEmail),
			AvatarURL:   r.getString(fieldAvatarURL),
			LastSeen:    r.getTime(fieldLastSeen),
		},
	}

	for key, v := range r.getObject(fieldTasks) {
		tr := reader{m: asObject(v, &r.err, fieldTasks+"."+key), prefix: fieldTasks + "." + key + "."}
		ts := TaskState{BestScore: tr.getInt(fieldBestScore), Attempts: []TaskAttempt{}}
		for i, av := range tr.getList(fieldAttempts) {
			path := fmt.Sprintf("%s%s[%d]", tr.prefix, fieldAttempts, i)
			ar := reader{m: asObject(av, &tr.err, path), prefix: path + "."}
			ts.Attempts = append(ts.Attempts, TaskAttempt{
				Score:        ar.getInt(fieldScore),
				Timestamp:    ar.getTime(fieldTimestamp),
				SourceRef:    ar.getString(fieldSourceRef),
				Report:       ar.m[fieldReport],
				SubmissionID: ar.getString(fieldSubmissionID),
			})
			if ar.err != nil {
				return nil, ar.err
			}
		}
		if tr.err != nil {
			return nil, tr.err
		}
		s.Tasks[key] = ts
	}
	if r.err != nil {
		return nil, r.err
	}

	s.fillTasks(c)
	return s, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// reader pulls typed fields out of a decoded map, keeping the first error.
type reader struct {
	m      map[string]any
	prefix string
	err    error
}

func (r *reader) fail(key, reason string) {
	if r.err == nil {
		r.err = &DocumentError{Field: r.prefix + key, Reason: reason}
	}
}

func (r *reader) getInt(key string) int {
	v, ok := r.m[key]
	if !ok || v == nil {
		return 0
	}
	n, ok := toInt(v)
	if !ok {
		r.fail(key, fmt.Sprintf("expected integer, got %T", v))
	}
	return n
}

func (r *reader) getInts(key string) []int {
	items := r.getList(key)
	out := make([]int, 0, len(items))
	for i, v := range items {
		n, ok := toInt(v)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", key, i), fmt.Sprintf("expected integer, got %T", v))
			continue
		}
		out = append(out, n)
	}
	return out
}

func (r *reader) getString(key string) string {
	v, ok := r.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		r.fail(key, fmt.Sprintf("expected string, got %T", v))
	}
	return s
}

func (r *reader) getStrings(key string) []string {
	items := r.getList(key)
	out := make([]string, 0, len(items))
	for i, v := range items {
		s, ok := v.(string)
		if !ok {
			r.fail(fmt.Sprintf("%s[%d]", key, i), fmt.Sprintf("expected string, got %T", v))
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *reader) getTime(key string) time.Time {
	s := r.getString(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.fail(key, err.Error())
	}
	return t.UTC()
}

func (r *reader) getList(key string) []any {
	v, ok := r.m[key]
	if !ok || v == nil {
		return nil
	}
	l, ok := v.([]any)
	if !ok {
		r.fail(key, fmt.Sprintf("expected list, got %T", v))
	}
	return l
}

func (r *reader) getObject(key string) map[string]any {
	v, ok := r.m[key]
	if !ok || v == nil {
		return nil
	}
	return asObject(v, &r.err, r.prefix+key)
}

func asObject(v any, errp *error, path string) map[string]any {
	m, ok := v.(map[string]any)
	if !ok && *errp == nil {
		*errp = &DocumentError{Field: path, Reason: fmt.Sprintf("expected map, got %T", v)}
	}
	return m
}

// toInt accepts integers and integral floats, which older documents may carry.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case float64:
		if n == float64(int64(n)) {
			return int(n), true
		}
	}
	return 0, false
}
