package api

import (
	"github.com/gin-gonic/gin"

	"github.com/deskwise/deskwise/internal/handlers"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler, push *handlers.PushSubscriptionHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/unread-count", handler.UnreadCount)
		group.PATCH("/read-all", handler.MarkAllRead)
		group.PATCH("/:id/read", handler.MarkRead)
		group.DELETE("/:id", handler.Delete)

		// Producer endpoints used by ticket workflows and admin tooling.
		group.POST("", handler.Create)
		group.POST("/broadcast", handler.Broadcast)
	}

	pushGroup := group.Group("/push")
	{
		pushGroup.POST("/subscribe", push.Subscribe)
		pushGroup.POST("/unsubscribe", push.Unsubscribe)
		pushGroup.GET("/subscriptions", push.List)
		pushGroup.GET("/public-key", push.PublicKey)
	}
}
