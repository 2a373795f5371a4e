package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tariel-x/mlmadmin/internal/auth"
	"github.com/tariel-x/mlmadmin/internal/config"
	"github.com/tariel-x/mlmadmin/internal/database"
	"github.com/tariel-x/mlmadmin/internal/genealogy"
	"github.com/tariel-x/mlmadmin/internal/members"
	"github.com/tariel-x/mlmadmin/internal/models"
	"github.com/tariel-x/mlmadmin/internal/notify"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const rootID = "MLM0000001"

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	tokens *auth.Issuer
	hub    *notify.Hub
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "api.db"),
		MaxRetries:   1,
		RunMigration: true,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		RootMemberID:   rootID,
		MemberIDPrefix: "MLM",
		TeamMaxLevel:   6,
		TreeLevels:     3,
		MaxTreeLevels:  6,
	}
	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	svc := members.NewService(db, hub, cfg.MemberIDPrefix)
	require.NoError(t, svc.EnsureSeed(context.Background(), rootID, "admin", "admin-pass"))

	tokens := auth.NewIssuer("test-secret", time.Hour)
	resolver := genealogy.NewResolver(genealogy.NewGormStore(db), genealogy.WithMaxDepth(16))

	router := gin.New()
	New(cfg, db, svc, resolver, tokens, hub).Routes(router)

	return &testEnv{router: router, db: db, tokens: tokens, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// register signs a member up under sponsor and returns its member_id and token.
func (e *testEnv) register(t *testing.T, sponsor string, pos models.Position) (string, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/register", "", RegisterRequest{
		Name:        "Member",
		Password:    "secret1",
		SponsorCode: sponsor,
		Position:    string(pos),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Member.MemberID, resp.Token
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/login", "", AdminLoginRequest{Username: "admin", Password: "admin-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

// scenario builds root{A Left{C Left}, B Right}.
func (e *testEnv) scenario(t *testing.T) (a, aToken, b, bToken, cID string) {
	t.Helper()
	a, aToken = e.register(t, rootID, models.PositionLeft)
	b, bToken = e.register(t, rootID, models.PositionRight)
	cID, _ = e.register(t, a, models.PositionLeft)
	return
}

func TestRegisterAndLogin(t *testing.T) {
	env := setupEnv(t)
	memberID, _ := env.register(t, rootID, models.PositionLeft)

	w := env.do(t, http.MethodPost, "/api/login", "", LoginRequest{MemberID: memberID, Password: "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["token"])

	w = env.do(t, http.MethodPost, "/api/login", "", LoginRequest{MemberID: memberID, Password: "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterErrors(t *testing.T) {
	env := setupEnv(t)
	env.register(t, rootID, models.PositionLeft)

	w := env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{
		Name: "Dup", Password: "secret1", SponsorCode: rootID, Position: "Left",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{
		Name: "Ghost", Password: "secret1", SponsorCode: "MLM404", Position: "Right",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/register", "", RegisterRequest{
		Name: "Odd", Password: "secret1", SponsorCode: rootID, Position: "Middle",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/register", "", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/member-dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/member-dashboard", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMemberDashboard(t *testing.T) {
	env := setupEnv(t)
	_, aToken, _, _, _ := env.scenario(t)

	w := env.do(t, http.MethodGet, "/api/member-dashboard", aToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	counts := decode(t, w)["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["sponsor"])
	assert.Equal(t, float64(1), counts["downline"])
	assert.Equal(t, float64(1), counts["left"])
	assert.Equal(t, float64(0), counts["right"])

	admin := env.adminToken(t)
	w = env.do(t, http.MethodGet, "/api/member-dashboard", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts = decode(t, w)["counts"].(map[string]any)
	assert.Equal(t, float64(2), counts["sponsor"])
	assert.Equal(t, float64(3), counts["downline"])
	assert.Equal(t, float64(2), counts["left"])
	assert.Equal(t, float64(1), counts["right"])
}

func TestLevelWiseTeam(t *testing.T) {
	env := setupEnv(t)
	a, _, b, _, c := env.scenario(t)
	admin := env.adminToken(t)

	w := env.do(t, http.MethodGet, "/api/level-wise-team", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	team := body["teamMembers"].([]any)
	require.Len(t, team, 3)
	ids := []string{}
	for _, tm := range team {
		ids = append(ids, tm.(map[string]any)["member_id"].(string))
	}
	assert.Equal(t, []string{a, c, b}, ids)
	assert.Equal(t, rootID, body["currentMember"].(map[string]any)["member_id"])

	w = env.do(t, http.MethodGet, "/api/level-wise-team?max_level=1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["teamMembers"].([]any), 2)

	w = env.do(t, http.MethodGet, "/api/level-wise-team?max_level=0", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["teamMembers"].([]any))

	w = env.do(t, http.MethodGet, "/api/level-wise-team?max_level=abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTeamStructure(t *testing.T) {
	env := setupEnv(t)
	a, aToken, b, _, c := env.scenario(t)

	w := env.do(t, http.MethodGet, "/api/team-structure", aToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tree := decode(t, w)
	assert.Equal(t, a, tree["member_id"])
	children := tree["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, c, children[0].(map[string]any)["member_id"])

	w = env.do(t, http.MethodGet, "/api/team-structure?root_id="+c, aToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/team-structure?root_id="+b, aToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/team-structure?root_id="+rootID, aToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/team-structure?levels=-1", aToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	admin := env.adminToken(t)
	w = env.do(t, http.MethodGet, "/api/team-structure?root_id=MLM404", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/team-structure?levels=1", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	children = decode(t, w)["children"].([]any)
	require.Len(t, children, 2)
	assert.Equal(t, "Left", children[0].(map[string]any)["position"])
	assert.Empty(t, children[0].(map[string]any)["children"])
}

func TestCorruptGenealogyIsUnprocessable(t *testing.T) {
	env := setupEnv(t)
	for _, m := range []models.Member{
		{MemberID: "CYC1", SponsorCode: "CYC2", Position: models.PositionLeft, Name: "one"},
		{MemberID: "CYC2", SponsorCode: "CYC1", Position: models.PositionLeft, Name: "two"},
	} {
		require.NoError(t, env.db.Create(&m).Error)
	}
	token, err := env.tokens.Issue(auth.Identity{Subject: "CYC1", Role: auth.RoleMember})
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/member-dashboard", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/api/level-wise-team", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/api/my-member", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMyMemberAndDirectReferrals(t *testing.T) {
	env := setupEnv(t)
	a, aToken, _, _, c := env.scenario(t)

	w := env.do(t, http.MethodGet, "/api/my-member", aToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total"])

	admin := env.adminToken(t)
	w = env.do(t, http.MethodGet, "/api/my-member", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), decode(t, w)["total"])

	w = env.do(t, http.MethodGet, "/api/direct-referrals", aToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, a, body["member_id"])
	referrals := body["members"].([]any)
	assert.Equal(t, float64(1), body["total"])
	_, hasOldKey := body["referrals"]
	assert.False(t, hasOldKey)
	require.Len(t, referrals, 1)
	ref := referrals[0].(map[string]any)
	assert.Equal(t, c, ref["member_id"])
	assert.Equal(t, "Inactive", ref["status"])
	assert.Len(t, ref["joining_date"], len("2006-01-02"))
}

func TestMeAndUpdateMe(t *testing.T) {
	env := setupEnv(t)
	memberID, token := env.register(t, rootID, models.PositionLeft)

	w := env.do(t, http.MethodPut, "/api/me", token, UpdateMeRequest{Name: "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode(t, w)["member"].(map[string]any)
	assert.Equal(t, memberID, m["member_id"])
	assert.Equal(t, "Renamed", m["name"])
	_, leaked := m["password_hash"]
	assert.False(t, leaked)

	admin := env.adminToken(t)
	w = env.do(t, http.MethodPut, "/api/me", admin, UpdateMeRequest{Name: "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	env := setupEnv(t)
	memberID, memberToken := env.register(t, rootID, models.PositionLeft)
	admin := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/api/admin/members/"+memberID+"/activate", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/members/"+memberID+"/activate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["member"].(map[string]any)["active_status"])

	w = env.do(t, http.MethodPost, "/api/admin/members/MLM404/activate", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/members", admin, RegisterRequest{
		Name: "Added", Password: "secret1", SponsorCode: memberID, Position: "Right",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, memberID, decode(t, w)["member"].(map[string]any)["sponsor_code"])

	w = env.do(t, http.MethodPost, "/api/admin/login", "", AdminLoginRequest{Username: "admin", Password: "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestWebSocketReceivesNewReferral(t *testing.T) {
	env := setupEnv(t)
	sponsor, sponsorToken := env.register(t, rootID, models.PositionLeft)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + sponsorToken

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return env.hub.Online(sponsor) }, 2*time.Second, 10*time.Millisecond)

	child, _ := env.register(t, sponsor, models.PositionRight)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, notify.EventNewReferral, ev.Type)
	assert.Equal(t, child, ev.MemberID)
}
