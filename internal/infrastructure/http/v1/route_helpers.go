package v1

import (
	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/security"
	"quartermaster/internal/infrastructure/http/v1/handlers"
	"quartermaster/internal/infrastructure/http/v1/middleware"
)

// stockKeeping gates physical stock mutations.
var stockKeeping = middleware.RequireAccess(middleware.Access{
	Roles:       []string{security.RoleStorekeeper, security.RoleCommander},
	Permissions: []string{security.PermissionStockWrite},
})

// commanding gates BOQ approval and rejection.
var commanding = middleware.RequireAccess(middleware.Access{
	Roles:       []string{security.RoleCommander},
	Permissions: []string{security.PermissionBOQApprove},
})

// registerLedgerRoutes registers quantity ledger endpoints.
// Reserve-pool variants are additionally checked against the reserve policy.
func registerLedgerRoutes(rg *gin.RouterGroup, h *handlers.LedgerHandler) {
	g := rg.Group("/ledger")
	g.GET("", h.List)
	g.GET("/low-stock", h.LowStock)
	g.POST("/transfers", stockKeeping, h.Transfer)

	entry := g.Group("/:warehouseId/:itemId")
	entry.GET("", h.Get)
	entry.GET("/availability", h.Availability)
	entry.GET("/movements", h.Movements)
	entry.PUT("/thresholds", stockKeeping, h.SetThresholds)
	entry.POST("/receive", stockKeeping, h.Receive)
	entry.POST("/allocate", stockKeeping, h.Allocate)
	entry.POST("/release", stockKeeping, h.ReleaseAllocation)
	entry.POST("/cancel", stockKeeping, h.CancelAllocation)
	entry.POST("/adjust", stockKeeping, h.Adjust)
}

// registerReserveRoutes registers Commander's Reserve endpoints.
// Access is decided by the reserve policy inside the service.
func registerReserveRoutes(rg *gin.RouterGroup, h *handlers.ReserveHandler) {
	g := rg.Group("/reserve/:warehouseId/:itemId")
	g.POST("/move-in", h.MoveToReserve)
	g.POST("/release", h.ReleaseToGeneral)
	g.POST("/allocate", h.Allocate)
	g.POST("/release-allocation", h.ReleaseAllocation)
	g.PUT("/target", h.AdjustTarget)
	g.PUT("/minimum", h.SetMinimum)
}

// registerCustodyRoutes registers operational custody endpoints.
func registerCustodyRoutes(rg *gin.RouterGroup, h *handlers.CustodyHandler) {
	g := rg.Group("/custody")
	g.POST("", stockKeeping, h.Issue)
	g.GET("/overdue", h.Overdue)
	g.GET("/:id", h.Get)
	g.POST("/:id/return", stockKeeping, h.Return)
	g.POST("/:id/consume", stockKeeping, h.Consume)
	g.POST("/:id/transfer", stockKeeping, h.Transfer)

	w := rg.Group("/workers/:workerId/custody")
	w.GET("", h.ListByWorker)
	w.GET("/outstanding/:itemId", h.Outstanding)
}

// registerBOQRoutes registers BOQ workflow endpoints.
func registerBOQRoutes(rg *gin.RouterGroup, h *handlers.BOQHandler) {
	g := rg.Group("/boq")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/remaining", h.Remaining)
	g.POST("/:id/lines", h.AddLine)
	g.PUT("/:id/lines/:lineId", h.UpdateLine)
	g.DELETE("/:id/lines/:lineId", h.RemoveLine)
	g.POST("/:id/submit", h.Submit)
	g.POST("/:id/approve", commanding, h.Approve)
	g.POST("/:id/approve-reserve", h.ApproveReserve)
	g.POST("/:id/reject", commanding, h.Reject)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/evaluate", h.Evaluate)
	g.POST("/:id/issue", stockKeeping, h.Issue)
}
