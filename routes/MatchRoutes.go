package routes

import (
	"vibin_realtime/controllers"
	"vibin_realtime/services"

	"github.com/gorilla/mux"
)

func RegisterMatchRoutes(api *mux.Router, matchService *services.MatchService) {
	controller := controllers.NewMatchController(matchService)

	api.HandleFunc("/matches", controller.HandleGetMatches).Methods("GET")
}
