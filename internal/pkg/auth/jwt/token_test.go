package jwt

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt"
)

const testSecret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken(&Payload{ID: "guest_abc", Role: RoleGuest}, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	payload, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if payload.ID != "guest_abc" || !payload.IsUser() || payload.IsAdmin() {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if _, err := ParseToken(token, "other-secret"); err == nil {
		t.Fatal("token verified with the wrong secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := GenerateToken(&Payload{Role: RoleAdmin}, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseToken(token, testSecret); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestRequireAdmin(t *testing.T) {
	adminToken, _ := GenerateToken(&Payload{Role: RoleAdmin}, testSecret, time.Minute)
	userToken, _ := GenerateToken(&Payload{ID: "u1", Role: RoleRegistered}, testSecret, time.Minute)

	h := IdentityExtractorMiddleware(testSecret)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"admin", "Bearer " + adminToken, http.StatusNoContent},
		{"user", "Bearer " + userToken, http.StatusUnauthorized},
		{"anonymous", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestTokenFromQuery(t *testing.T) {
	token, _ := GenerateToken(&Payload{ID: "u1", Role: RoleRegistered}, testSecret, time.Minute)

	var got *Payload
	h := IdentityExtractorMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetPayloadFromContext(r)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws/app?token="+token, nil))
	if got == nil || got.ID != "u1" {
		t.Fatalf("payload from query = %+v", got)
	}
}

func signMap(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestRegisteredClaimsAreFlat(t *testing.T) {
	token, err := GenerateToken(&Payload{ID: "u1", Role: RoleRegistered}, testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["exp"]; !ok {
		t.Errorf("exp missing from top-level claims: %s", raw)
	}
	if _, ok := body["standard_claims"]; ok {
		t.Errorf("claims nested under standard_claims: %s", raw)
	}
}

func TestExternallyMintedTokens(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		claims gojwt.MapClaims
		ok     bool
	}{
		{"valid", gojwt.MapClaims{"id": "u1", "role": RoleRegistered, "exp": now.Add(time.Hour).Unix()}, true},
		{"expired", gojwt.MapClaims{"id": "u1", "role": RoleRegistered, "exp": now.Add(-time.Hour).Unix()}, false},
		{"no expiry", gojwt.MapClaims{"id": "u1", "role": RoleRegistered}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := ParseToken(signMap(t, tc.claims), testSecret)
			if tc.ok {
				if err != nil || payload.ID != "u1" || !payload.IsUser() {
					t.Fatalf("payload=%+v err=%v", payload, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("token accepted: %+v", payload)
			}
		})
	}
}
