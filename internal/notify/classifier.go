package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/psnwatch/internal/humanize"
	"tools.zach/dev/psnwatch/internal/presence"
	"tools.zach/dev/psnwatch/internal/tracker"
)

// ///////////////////////////////////////////////
// Notification
// ///////////////////////////////////////////////

// Category is the alerting boundary a notification belongs to.
type Category string

const (
	CategoryStatus         Category = "status"
	CategoryActiveInactive Category = "active_inactive"
	CategoryGame           Category = "game_change"
	CategoryError          Category = "error"
)

// Notification is a rendered message ready for a dispatcher.
type Notification struct {
	Category Category  `json:"category"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	At       time.Time `json:"at"`
}

// ///////////////////////////////////////////////
// Error Gate
// ///////////////////////////////////////////////

// ErrorGate lets one error notification through per continuous outage.
type ErrorGate struct {
	mu      sync.Mutex
	tripped bool
}

// Trip reports whether this is the first failure since the last Reset.
func (g *ErrorGate) Trip() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tripped {
		return false
	}
	g.tripped = true
	return true
}

// Reset re-arms the gate after a successful fetch.
func (g *ErrorGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripped = false
}

// ///////////////////////////////////////////////
// Classifier
// ///////////////////////////////////////////////

// Classifier renders tracker events and decides, against the shared toggles,
// whether they should be sent.
type Classifier struct {
	user        string
	toggles     *Toggles
	loc         *time.Location
	granularity int
	now         func() time.Time
	gate        ErrorGate
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLocation renders dates in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(c *Classifier) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithGranularity sets how many units approximate durations keep.
func WithGranularity(n int) Option {
	return func(c *Classifier) { c.granularity = n }
}

// WithClock overrides the clock used for the "Timestamp:" footer.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier returns a Classifier for the tracked user reading toggles.
func NewClassifier(user string, toggles *Toggles, opts ...Option) *Classifier {
	c := &Classifier{
		user:        user,
		toggles:     toggles,
		loc:         time.Local,
		granularity: humanize.DefaultGranularity,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify renders ev and reports whether its category is enabled. Status
// changes are sent when the all-changes toggle is on, or when the
// active/inactive toggle is on and the change crossed the offline boundary.
// Sub-state changes (online to busy) never count as active/inactive.
func (c *Classifier) Classify(ev tracker.Event) (Notification, bool) {
	n := c.Render(ev)
	t := c.toggles.Snapshot()
	switch n.Category {
	case CategoryActiveInactive:
		return n, t.ActiveInactive || t.Status
	case CategoryStatus:
		return n, t.Status
	case CategoryGame:
		return n, t.GameChange
	}
	return n, false
}

// ClassifyFailure renders a fetch failure. Only authentication failures are
// eligible, at most once until [Classifier.Recovered] is called.
func (c *Classifier) ClassifyFailure(err error, at time.Time) (Notification, bool) {
	if !presence.IsAuth(err) || !c.toggles.Enabled(ToggleErrors) {
		return Notification{}, false
	}
	if !c.gate.Trip() {
		return Notification{}, false
	}
	return Notification{
		Category: CategoryError,
		Subject:  fmt.Sprintf("psnwatch: PSN NPSSO key error! (user: %s)", c.user),
		Body:     fmt.Sprintf("PSN NPSSO key might not be valid anymore: %v%s", err, c.footer()),
		At:       at,
	}, true
}

// Recovered re-arms error notifications after a successful fetch.
func (c *Classifier) Recovered() { c.gate.Reset() }

// Render builds the notification for ev regardless of toggles.
func (c *Classifier) Render(ev tracker.Event) Notification {
	switch e := ev.(type) {
	case tracker.StatusChanged:
		return c.renderStatus(e)
	case tracker.GameChanged:
		return c.renderGame(e)
	}
	return Notification{}
}

// ///////////////////////////////////////////////
// Rendering
// ///////////////////////////////////////////////

func (c *Classifier) renderStatus(e tracker.StatusChanged) Notification {
	at, since := e.At.In(c.loc), e.Since.In(c.loc)
	noSeconds := humanize.SpanOptions{HideSeconds: true}

	after := humanize.Span(at, since, noSeconds)
	wasSince := fmt.Sprintf(", was %s: %s", e.From, humanize.Range(since, at, true, ""))
	bodyWas := " (" + humanize.Range(since, at, true, "") + ")"

	var extra strings.Builder
	if e.Boundary == tracker.WentOnline && e.Merged {
		fmt.Fprintf(&extra, "\n\nShort offline interruption, session continues since %s",
			humanize.Date(e.SessionStart.In(c.loc)))
	}
	if e.Boundary == tracker.WentOffline && !e.SessionStart.IsZero() {
		start := e.SessionStart.In(c.loc)
		after = humanize.Span(at, start, noSeconds)
		wasSince = ", was available: " + humanize.Range(start, at, true, "")
		bodyWas += fmt.Sprintf("\n\nUser was available for %s (%s)",
			humanize.Span(at, start, noSeconds), humanize.Range(start, at, true, ""))
		if e.GamesCount > 0 {
			fmt.Fprintf(&extra, "\n\nUser played %d %s for total time %s",
				e.GamesCount, gamesNoun(e.GamesCount), humanize.Duration(e.GameTotal, c.granularity))
		}
	}
	if e.GameName != "" {
		fmt.Fprintf(&extra, "\n\nUser is currently in-game: %s (%s)", e.GameName, e.GamePlatform)
	}

	cat := CategoryStatus
	if e.Boundary != tracker.NoBoundary {
		cat = CategoryActiveInactive
	}
	return Notification{
		Category: cat,
		Subject:  fmt.Sprintf("PSN user %s is now %s (after %s%s)", c.user, e.To, after, wasSince),
		Body: fmt.Sprintf("PSN user %s changed status from %s to %s\n\nUser was %s for %s%s%s%s",
			c.user, e.From, e.To, e.From, humanize.Span(at, since, humanize.SpanOptions{}), bodyWas, extra.String(), c.footer()),
		At: e.At,
	}
}

func (c *Classifier) renderGame(e tracker.GameChanged) Notification {
	at, since := e.At.In(c.loc), e.Since.In(c.loc)
	spanShort := humanize.Span(at, since, humanize.SpanOptions{HideSeconds: true})
	spanFull := humanize.Span(at, since, humanize.SpanOptions{})
	played := "\n\nUser played game from " + humanize.Range(since, at, true, " to ")

	n := Notification{Category: CategoryGame, At: e.At}
	switch e.Kind {
	case tracker.GameSwitched:
		n.Subject = fmt.Sprintf("PSN user %s changed game to '%s' (%s, after %s: %s)",
			c.user, e.To, e.Platform, spanShort, humanize.Range(since, at, true, ""))
		n.Body = fmt.Sprintf("PSN user %s changed game from '%s' to '%s' (%s) after %s%s%s",
			c.user, e.From, e.To, e.Platform, spanFull, played, c.footer())
	case tracker.GameStarted:
		n.Subject = fmt.Sprintf("PSN user %s now plays '%s' (%s)", c.user, e.To, e.Platform)
		n.Body = n.Subject + c.footer()
	default:
		n.Subject = fmt.Sprintf("PSN user %s stopped playing '%s' (after %s: %s)",
			c.user, e.From, spanShort, humanize.Range(since, at, true, ""))
		n.Body = fmt.Sprintf("PSN user %s stopped playing '%s' after %s%s%s",
			c.user, e.From, spanFull, played, c.footer())
	}
	return n
}

func (c *Classifier) footer() string {
	return "\n\nTimestamp: " + humanize.Stamp(c.now().In(c.loc))
}

func gamesNoun(n int) string {
	if n == 1 {
		return "game"
	}
	return "games"
}
