package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/internal/notifications"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

func newNotificationStore(t *testing.T) notifications.Store {
	t.Helper()
	store, err := notifications.NewStore(kv.NewMemory(), config.NotificationsConfig{MaxEntries: 10})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAdminSendThenReadNotification(t *testing.T) {
	store := newNotificationStore(t)
	userID := uuid.New()

	req := newRequest(http.MethodPost, "/api/admin/v1/users/"+userID.String()+"/notifications",
		`{"type":"order","title":"Shipped","message":"Your order shipped","data":{"order_id":42}}`)
	req = addRouteParam(req, "userId", userID.String())
	resp := httptest.NewRecorder()
	AdminSendNotification(store, testLogg)(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var created notifications.Record
	decodeData(t, resp, &created)
	if created.Data["order_id"] != "42" {
		t.Fatalf("data should be normalized to strings, got %+v", created.Data)
	}

	resp = httptest.NewRecorder()
	UnreadNotificationCount(store, testLogg)(resp, asUser(newRequest(http.MethodGet, "/api/v1/notifications/unread-count", ""), userID))
	var unread map[string]int64
	decodeData(t, resp, &unread)
	if unread["unread"] != 1 {
		t.Fatalf("expected one unread, got %v", unread)
	}

	req = asUser(newRequest(http.MethodPost, "/api/v1/notifications/"+created.ID.String()+"/read", ""), userID)
	req = addRouteParam(req, "notificationId", created.ID.String())
	resp = httptest.NewRecorder()
	MarkNotificationRead(store, testLogg)(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	ListNotifications(store, testLogg)(resp, asUser(newRequest(http.MethodGet, "/api/v1/notifications?limit=5", ""), userID))
	var page listPage[notifications.Record]
	decodeData(t, resp, &page)
	if len(page.Items) != 1 || !page.Items[0].Read || page.Limit != 5 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestMarkNotificationReadUnknownID(t *testing.T) {
	store := newNotificationStore(t)
	userID := uuid.New()
	if _, err := store.Add(context.Background(), userID, notifications.Input{Type: "info", Title: "t", Message: "m"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	missing := uuid.New()
	req := asUser(newRequest(http.MethodPost, "/api/v1/notifications/"+missing.String()+"/read", ""), userID)
	req = addRouteParam(req, "notificationId", missing.String())
	resp := httptest.NewRecorder()
	MarkNotificationRead(store, testLogg)(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListNotificationsRejectsBadLimit(t *testing.T) {
	resp := httptest.NewRecorder()
	ListNotifications(newNotificationStore(t), testLogg)(resp, asUser(newRequest(http.MethodGet, "/api/v1/notifications?limit=abc", ""), uuid.New()))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
