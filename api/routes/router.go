package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bookstore-backend/api/controllers"
	"github.com/angelmondragon/bookstore-backend/api/middleware"
	"github.com/angelmondragon/bookstore-backend/internal/activity"
	"github.com/angelmondragon/bookstore-backend/internal/cart"
	"github.com/angelmondragon/bookstore-backend/internal/favorites"
	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/internal/notifications"
	"github.com/angelmondragon/bookstore-backend/internal/permissions"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

// NewRouter mounts health, metrics, the user API and the admin API.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	store kv.Store,
	gatherer prometheus.Gatherer,
	cartService cart.Engine,
	favoritesService favorites.Service,
	activityLog activity.Log,
	notificationStore notifications.Store,
	permissionCache permissions.Cache,
	importDispatcher *importer.Dispatcher,
	importRunner *importer.Runner,
	importRuns *importer.RunRepository,
	importLogs importlog.Stream,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, store))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWT, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.RequireIdentity(logg))
			r.Get("/", controllers.CartFetch(cartService, logg))
			r.Delete("/", controllers.CartClear(cartService, logg))
			r.Post("/items", controllers.CartAddItem(cartService, logg))
			r.Put("/items/{bookId}", controllers.CartUpdateItem(cartService, logg))
			r.Delete("/items/{bookId}", controllers.CartRemoveItem(cartService, logg))
			r.Post("/merge", controllers.CartMerge(cartService, logg))
			r.Post("/checkout", controllers.CartCheckout(cartService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(logg))

			r.Route("/favorites", func(r chi.Router) {
				r.Get("/", controllers.FavoritesList(favoritesService, logg))
				r.Delete("/", controllers.FavoritesClear(favoritesService, logg))
				r.Get("/count", controllers.FavoritesCount(favoritesService, logg))
				r.Get("/{bookId}", controllers.FavoriteCheck(favoritesService, logg))
				r.Put("/{bookId}", controllers.FavoriteAdd(favoritesService, logg))
				r.Delete("/{bookId}", controllers.FavoriteRemove(favoritesService, logg))
				r.Post("/{bookId}/toggle", controllers.FavoriteToggle(favoritesService, logg))
			})

			r.Route("/activity", func(r chi.Router) {
				r.Get("/", controllers.ActivityList(activityLog, logg))
				r.Post("/", controllers.ActivityCreate(activityLog, logg))
				r.Delete("/", controllers.ActivityClear(activityLog, logg))
				r.Get("/count", controllers.ActivityCount(activityLog, logg))
				r.Delete("/{activityId}", controllers.ActivityDelete(activityLog, logg))
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(notificationStore, logg))
				r.Delete("/", controllers.ClearNotifications(notificationStore, logg))
				r.Get("/unread-count", controllers.UnreadNotificationCount(notificationStore, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationStore, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationStore, logg))
				r.Delete("/{notificationId}", controllers.DeleteNotification(notificationStore, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWT, logg))
		r.Use(middleware.RequireUser(logg))

		r.Route("/imports", func(r chi.Router) {
			r.Use(middleware.RequirePermission(permissionCache, permissions.ImportsManage, logg))
			r.Get("/", controllers.AdminListImportRuns(importRuns, logg))
			r.Post("/", controllers.AdminTriggerImport(importDispatcher, logg))
			r.Get("/in-flight", controllers.AdminInFlightImports(importDispatcher, logg))
			r.Post("/cancel", controllers.AdminCancelImport(importRunner, logg))
			r.Get("/{runId}", controllers.AdminImportRunDetail(importRuns, logg))
		})

		r.Route("/import-logs", func(r chi.Router) {
			r.Use(middleware.RequirePermission(permissionCache, permissions.ImportLogsRead, logg))
			r.Get("/", controllers.AdminRecentImportLogs(importLogs, logg))
			r.Get("/stats", controllers.AdminImportLogStats(importLogs, logg))
			r.Get("/type/{type}", controllers.AdminImportLogsByType(importLogs, logg))
			r.Get("/status/{status}", controllers.AdminImportLogsByStatus(importLogs, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePermission(permissionCache, permissions.PermissionsManage, logg))
			r.Post("/permissions/sync", controllers.AdminSyncAllPermissions(permissionCache, logg))
			r.Route("/roles/{roleId}/permissions", func(r chi.Router) {
				r.Get("/", controllers.AdminRolePermissions(permissionCache, logg))
				r.Put("/", controllers.AdminReplacePermissions(permissionCache, logg))
				r.Post("/", controllers.AdminGrantPermission(permissionCache, logg))
				r.Post("/sync", controllers.AdminSyncRolePermissions(permissionCache, logg))
				r.Delete("/{permission}", controllers.AdminRevokePermission(permissionCache, logg))
			})
		})

		r.With(middleware.RequirePermission(permissionCache, permissions.NotificationsWrite, logg)).
			Post("/users/{userId}/notifications", controllers.AdminSendNotification(notificationStore, logg))
	})

	return r
}
