package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/pulse/internal/adapters/http/api"
	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/repository"
	service "github.com/okian/pulse/internal/app"
	"github.com/okian/pulse/internal/domain/entity"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/reward"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies records calls and returns canned results.
type mockDependencies struct {
	ingestErr error
	samples   []model.DeviceSample

	status    session.Status
	statusErr error
	endResult session.EndResult
	endErr    error

	series    []*float64
	seriesErr error
	history   []string

	assigned    []session.AssignRequest
	unassigned  []string
	transfers   [][2]string
	transferErr error
	memos       []session.VoiceMemoRequest
	zones       []zone.Zone
	users       []identity.User
	mismatches  []identity.Mismatch

	standings []repository.Standing
	rankErr   error
	records   []repository.Record
	payload   summary.Payload
	getErr    error
}

func (m *mockDependencies) Ingest(_ context.Context, s model.DeviceSample) error {
	if m.ingestErr != nil {
		return m.ingestErr
	}
	m.samples = append(m.samples, s)
	return nil
}

func (m *mockDependencies) EndSession(context.Context) (session.EndResult, error) {
	return m.endResult, m.endErr
}

func (m *mockDependencies) Status(context.Context) (session.Status, error) {
	return m.status, m.statusErr
}

func (m *mockDependencies) Roster(context.Context) ([]summary.RosterEntry, error) {
	return []summary.RosterEntry{{ParticipantID: "alice", Name: "Alice"}}, nil
}

func (m *mockDependencies) Timeline(context.Context) (summary.EncodedTimeline, error) {
	return summary.EncodedTimeline{}, nil
}

func (m *mockDependencies) Series(_ context.Context, _, _ string) ([]*float64, error) {
	return m.series, m.seriesErr
}

func (m *mockDependencies) HistoricalParticipants(context.Context) ([]string, error) {
	return m.history, nil
}

func (m *mockDependencies) RewardSummary(context.Context) (reward.Summary, error) {
	return reward.Summary{}, nil
}

func (m *mockDependencies) Entities(context.Context) ([]entity.Entity, error) {
	return nil, nil
}

func (m *mockDependencies) EntityAggregate(_ context.Context, profile string) (entity.Aggregate, error) {
	return entity.Aggregate{ProfileID: profile, Coins: 7}, nil
}

func (m *mockDependencies) AssignDevice(_ context.Context, req session.AssignRequest) (identity.Assignment, error) {
	m.assigned = append(m.assigned, req)
	return identity.Assignment{DeviceID: req.DeviceID, ParticipantID: "guest_rider", Name: req.Name, Guest: req.Guest}, nil
}

func (m *mockDependencies) UnassignDevice(_ context.Context, device string) error {
	if device == "missing" {
		return fmt.Errorf("unassign: %w", identity.ErrUnknownDevice)
	}
	m.unassigned = append(m.unassigned, device)
	return nil
}

func (m *mockDependencies) Assignments(context.Context) ([]identity.Assignment, []identity.Mismatch, error) {
	return nil, m.mismatches, nil
}

func (m *mockDependencies) Transfer(_ context.Context, from, to string) error {
	if m.transferErr != nil {
		return m.transferErr
	}
	m.transfers = append(m.transfers, [2]string{from, to})
	return nil
}

func (m *mockDependencies) AddVoiceMemo(_ context.Context, req session.VoiceMemoRequest) (summary.VoiceMemo, error) {
	m.memos = append(m.memos, req)
	return summary.VoiceMemo{ID: "memo-1", Transcript: req.Transcript}, nil
}

func (m *mockDependencies) Configure(_ context.Context, zones []zone.Zone, users []identity.User) error {
	m.zones, m.users = zones, users
	return nil
}

func (m *mockDependencies) TopN(_ context.Context, n int) ([]repository.Standing, error) {
	if n > len(m.standings) {
		return m.standings, nil
	}
	return m.standings[:n], nil
}

func (m *mockDependencies) Rank(_ context.Context, id string) (repository.Standing, error) {
	if m.rankErr != nil {
		return repository.Standing{}, m.rankErr
	}
	for _, s := range m.standings {
		if s.ParticipantID == id {
			return s, nil
		}
	}
	return repository.Standing{}, repository.ErrUnranked
}

func (m *mockDependencies) Sessions(_ context.Context, _ int) ([]repository.Record, error) {
	return m.records, nil
}

func (m *mockDependencies) SessionPayload(_ context.Context, id string) (summary.Payload, error) {
	if m.getErr != nil {
		return summary.Payload{}, m.getErr
	}
	if id != m.payload.Summary.SessionID {
		return summary.Payload{}, repository.ErrNotFound
	}
	return m.payload, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps *mockDependencies) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, 50)
	mux := http.NewServeMux()
	server.Register(mux)
	return mux
}

func call(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

// requestCount reads the HTTP request counter for one route and status class.
func requestCount(route, class string) float64 {
	families, _ := metrics.GetRegistry().Gather()
	for _, mf := range families {
		if mf.GetName() != "pulse_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["route"] == route && labels["class"] == class {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("Then health serves the metrics registry", func() {
			w := call(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then stats combine service counters with the session headline", func() {
			deps.status = session.Status{State: session.StateActive, SessionID: "s-1", TickCount: 4, TotalCoins: 9}
			w := call(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)

			var body struct {
				Service map[string]interface{} `json:"service"`
				Session *struct {
					State      string `json:"state"`
					SessionID  string `json:"sessionId"`
					TickCount  int    `json:"tickCount"`
					TotalCoins int    `json:"totalCoins"`
				} `json:"session"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Service["started"], ShouldEqual, true)
			So(body.Session, ShouldNotBeNil)
			So(body.Session.State, ShouldEqual, "active")
			So(body.Session.SessionID, ShouldEqual, "s-1")
			So(body.Session.TickCount, ShouldEqual, 4)
			So(body.Session.TotalCoins, ShouldEqual, 9)
		})

		Convey("Then stats omit the session while the service is stopped", func() {
			deps.statusErr = service.ErrNotStarted
			w := call(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldNotContainSubstring, `"session"`)
		})

		Convey("Then requests are counted by route and status class", func() {
			okBefore := requestCount("session", "2xx")
			badBefore := requestCount("samples", "4xx")
			call(mux, http.MethodGet, "/session", "")
			call(mux, http.MethodPost, "/samples", `{"heart_rate":90}`)
			So(requestCount("session", "2xx")-okBefore, ShouldEqual, 1)
			So(requestCount("samples", "4xx")-badBefore, ShouldEqual, 1)
		})

		Convey("Then unknown paths are 404", func() {
			So(call(mux, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then wrong methods are rejected", func() {
			So(call(mux, http.MethodGet, "/samples", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestSamples(t *testing.T) {
	Convey("Given the samples endpoint", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When a valid sample is posted", func() {
			w := call(mux, http.MethodPost, "/samples",
				`{"device_id":"hr-1","type":"heart_rate","ts":"2026-03-01T18:00:00Z","heart_rate":142}`)

			Convey("Then it is accepted and forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.samples, ShouldHaveLength, 1)
				So(deps.samples[0].DeviceID, ShouldEqual, "hr-1")
				So(*deps.samples[0].HeartRate, ShouldEqual, 142)
				So(deps.samples[0].Timestamp.Equal(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)), ShouldBeTrue)
			})
		})

		Convey("When the type is omitted", func() {
			w := call(mux, http.MethodPost, "/samples", `{"device_id":"hr-1","heart_rate":90}`)

			Convey("Then it defaults to heart rate", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.samples[0].Type, ShouldEqual, model.DeviceHeartRate)
				So(deps.samples[0].Timestamp.IsZero(), ShouldBeTrue)
			})
		})

		Convey("When the device id is missing", func() {
			w := call(mux, http.MethodPost, "/samples", `{"heart_rate":90}`)

			Convey("Then the request is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing device_id")
				So(deps.samples, ShouldBeEmpty)
			})
		})

		Convey("When the timestamp is malformed", func() {
			w := call(mux, http.MethodPost, "/samples", `{"device_id":"hr-1","ts":"yesterday"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body has unknown fields", func() {
			w := call(mux, http.MethodPost, "/samples", `{"device_id":"hr-1","bpm":90}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the session queue is full", func() {
			deps.ingestErr = fmt.Errorf("busy: %w", queue.ErrFull)
			w := call(mux, http.MethodPost, "/samples", `{"device_id":"hr-1","heart_rate":90}`)

			Convey("Then the client is told to back off", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(errorCode(w), ShouldEqual, "backpressure")
			})
		})
	})
}

func TestSessionViews(t *testing.T) {
	Convey("Given the session endpoints", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When no session is running", func() {
			deps.status = session.Status{State: session.StateIdle}
			deps.endErr = session.ErrNotActive
			deps.seriesErr = session.ErrNotActive

			Convey("Then the status still reports idle", func() {
				w := call(mux, http.MethodGet, "/session", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"state":"idle"`)
			})

			Convey("Then ending is a conflict", func() {
				w := call(mux, http.MethodPost, "/session/end", "")
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "no_active_session")
			})

			Convey("Then series reads are a conflict", func() {
				w := call(mux, http.MethodGet, "/series?participant=alice&metric=coins", "")
				So(w.Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When the session has ended with a rejection", func() {
			deps.endResult = session.EndResult{SessionID: "20260301180003", Reason: session.ReasonExplicit, Rejection: summary.ReasonInsufficientTicks}
			w := call(mux, http.MethodPost, "/session/end", "")

			Convey("Then the result is still returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, summary.ReasonInsufficientTicks)
			})
		})

		Convey("When reading a series", func() {
			v := 3.0
			deps.series = []*float64{nil, &v}

			Convey("Then both query parameters are required", func() {
				So(call(mux, http.MethodGet, "/series?participant=alice", "").Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("Then gaps are encoded as null", func() {
				w := call(mux, http.MethodGet, "/series?participant=alice&metric=coins", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"values":[null,3]`)
			})

			Convey("Then unknown series are 404", func() {
				deps.series, deps.seriesErr = nil, session.ErrUnknownSeries
				So(call(mux, http.MethodGet, "/series?participant=zed&metric=coins", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When listing history with nobody seen", func() {
			w := call(mux, http.MethodGet, "/participants/history", "")

			Convey("Then an empty array is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When asking for one profile's entities", func() {
			w := call(mux, http.MethodGet, "/entities?profile=alice", "")

			Convey("Then the aggregate is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"profileId":"alice"`)
			})
		})

		Convey("Then the roster, timeline and rewards are served", func() {
			So(call(mux, http.MethodGet, "/roster", "").Code, ShouldEqual, http.StatusOK)
			So(call(mux, http.MethodGet, "/timeline", "").Code, ShouldEqual, http.StatusOK)
			So(call(mux, http.MethodGet, "/rewards", "").Code, ShouldEqual, http.StatusOK)
			So(call(mux, http.MethodGet, "/entities", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestAdmin(t *testing.T) {
	Convey("Given the admin endpoints", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When assigning a guest", func() {
			w := call(mux, http.MethodPost, "/assignments", `{"device_id":"hr-1","name":"Guest Rider","guest":true}`)

			Convey("Then the assignment is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.assigned, ShouldHaveLength, 1)
				So(deps.assigned[0].Guest, ShouldBeTrue)
				So(w.Body.String(), ShouldContainSubstring, `"participant_id":"guest_rider"`)
			})
		})

		Convey("When assigning without a name", func() {
			w := call(mux, http.MethodPost, "/assignments", `{"device_id":"hr-1"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When unassigning", func() {
			So(call(mux, http.MethodDelete, "/assignments/hr-1", "").Code, ShouldEqual, http.StatusNoContent)
			So(deps.unassigned, ShouldResemble, []string{"hr-1"})
			So(call(mux, http.MethodDelete, "/assignments/missing", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When reconciling", func() {
			deps.mismatches = []identity.Mismatch{{DeviceID: "hr-1", LedgerID: "guest_rider", DirectoryID: "alice", LedgerIsGuest: true}}
			w := call(mux, http.MethodGet, "/reconcile", "")

			Convey("Then mismatches are listed and assignments default to empty", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"assignments":[]`)
				So(w.Body.String(), ShouldContainSubstring, `"directory_id":"alice"`)
			})
		})

		Convey("When transferring", func() {
			So(call(mux, http.MethodPost, "/transfers", `{"from":"e1","to":"e2"}`).Code, ShouldEqual, http.StatusNoContent)
			So(deps.transfers, ShouldResemble, [][2]string{{"e1", "e2"}})

			Convey("Then a repeated transfer is a conflict", func() {
				deps.transferErr = fmt.Errorf("transfer: %w", reward.ErrAlreadyTransferred)
				So(call(mux, http.MethodPost, "/transfers", `{"from":"e1","to":"e2"}`).Code, ShouldEqual, http.StatusConflict)
			})

			Convey("Then a self transfer is a bad request", func() {
				deps.transferErr = reward.ErrSelfTransfer
				So(call(mux, http.MethodPost, "/transfers", `{"from":"e1","to":"e1"}`).Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When replacing the roster", func() {
			w := call(mux, http.MethodPut, "/roster",
				`{"zones":[{"id":"warm","name":"Warm","min":130,"color":"yellow","coins":2}],"users":[{"id":"alice","name":"Alice","devices":["hr-1"]}]}`)

			Convey("Then zones and users are forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(deps.zones, ShouldHaveLength, 1)
				So(deps.zones[0].Coins, ShouldEqual, 2)
				So(deps.users[0].Devices, ShouldResemble, []string{"hr-1"})
			})
		})

		Convey("When adding a memo", func() {
			w := call(mux, http.MethodPost, "/memos", `{"participant_id":"alice","duration_ms":4000,"transcript":"legs are gone"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.memos[0].DurationMs, ShouldEqual, 4000)
			So(call(mux, http.MethodPost, "/memos", `{"transcript":"  "}`).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestLeaderboard(t *testing.T) {
	Convey("Given a populated leaderboard", t, func() {
		deps := &mockDependencies{
			standings: []repository.Standing{
				{Rank: 1, ParticipantID: "alice", Coins: 40, Sessions: 2},
				{Rank: 2, ParticipantID: "bob", Coins: 12, Sessions: 1},
			},
			records: []repository.Record{{SessionID: "20260301180003", TotalCoins: 52}},
			payload: summary.Payload{Summary: summary.Summary{SessionID: "20260301180003"}},
		}
		mux := newMux(deps)

		Convey("Then the top entries are returned", func() {
			w := call(mux, http.MethodGet, "/leaderboard?limit=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got []repository.Standing
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got, ShouldHaveLength, 1)
			So(got[0].ParticipantID, ShouldEqual, "alice")
		})

		Convey("Then invalid limits are rejected", func() {
			So(call(mux, http.MethodGet, "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			w := call(mux, http.MethodGet, "/leaderboard?limit=51", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "limit_exceeded")
		})

		Convey("Then ranks are looked up by participant", func() {
			w := call(mux, http.MethodGet, "/rank/bob", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"rank":2`)
			So(call(mux, http.MethodGet, "/rank/zed", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then rank failures surface as internal errors", func() {
			deps.rankErr = fmt.Errorf("boom")
			So(call(mux, http.MethodGet, "/rank/bob", "").Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("Then stored sessions can be listed and fetched", func() {
			So(call(mux, http.MethodGet, "/sessions", "").Code, ShouldEqual, http.StatusOK)
			So(call(mux, http.MethodGet, "/sessions/20260301180003", "").Code, ShouldEqual, http.StatusOK)
			So(call(mux, http.MethodGet, "/sessions/nope", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
