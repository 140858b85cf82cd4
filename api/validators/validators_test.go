package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
)

type grantRequest struct {
	Permission string `json:"permission" validate:"required,permission"`
	Quantity   int    `json:"quantity" validate:"min=1"`
}

func decode(body string) (grantRequest, error) {
	var req grantRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	err := DecodeJSONBody(r, &req)
	return req, err
}

func TestDecodeJSONBody(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
		field   string
	}{
		{name: "valid", body: `{"permission":"imports:manage","quantity":2}`},
		{name: "empty body", body: ``, wantErr: true},
		{name: "unknown field", body: `{"permission":"a:b","quantity":1,"extra":true}`, wantErr: true},
		{name: "trailing object", body: `{"permission":"a:b","quantity":1}{}`, wantErr: true},
		{name: "bad permission", body: `{"permission":"Imports Manage","quantity":1}`, wantErr: true, field: "permission"},
		{name: "quantity too small", body: `{"permission":"a:b","quantity":0}`, wantErr: true, field: "quantity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decode(tc.body)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tc.field == "" {
				return
			}
			typed := pkgerrors.As(err)
			details, ok := typed.Details().(map[string]string)
			if !ok || details[tc.field] == "" {
				t.Fatalf("expected details for %s, got %#v", tc.field, typed.Details())
			}
		})
	}
}

func TestParseQueryHelpers(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=500&force=yes&status=running", nil)

	if _, err := ParseQueryInt(r, "limit", 20, 1, 100); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out of range error, got %v", err)
	}
	if v, err := ParseQueryInt(r, "offset", 7, 0, 10); err != nil || v != 7 {
		t.Fatalf("expected default, got %d %v", v, err)
	}
	if _, err := ParseQueryBool(r, "force", false); err == nil {
		t.Fatalf("expected bool parse error")
	}
	status, err := ParseQueryEnum(r, "status", enums.ParseImportRunStatus)
	if err != nil || status == nil || *status != enums.ImportRunStatusRunning {
		t.Fatalf("unexpected status %v %v", status, err)
	}
	missing, err := ParseQueryEnum(r, "type", enums.ParseImportLogType)
	if err != nil || missing != nil {
		t.Fatalf("absent enum should be nil, got %v %v", missing, err)
	}
}
