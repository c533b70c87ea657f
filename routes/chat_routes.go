package routes

import (
	"vibin_realtime/controllers"
	"vibin_realtime/services"

	"github.com/gorilla/mux"
)

// RegisterChatRoutes sets up routes for chat-related operations under /api/chat
func RegisterChatRoutes(api *mux.Router, chatService *services.ChatService, presence services.PresenceStore, notifier controllers.ChatNotifier) {
	controller := controllers.NewChatController(chatService, presence, notifier)

	chatRouter := api.PathPrefix("/chat").Subrouter()

	chatRouter.HandleFunc("/messages", controller.HandleGetMessages).Methods("GET")
	chatRouter.HandleFunc("/message", controller.HandleSendMessage).Methods("POST")
	chatRouter.HandleFunc("/messages/mark-as-read", controller.HandleMarkMessagesAsRead).Methods("POST")
	chatRouter.HandleFunc("/typing", controller.HandleGetTyping).Methods("GET")
}
