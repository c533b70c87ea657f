package routes

import (
	"vibin_realtime/controllers"
	"vibin_realtime/services"

	"github.com/gorilla/mux"
)

// RegisterInterestRoutes registers the interest ledger routes under `/api/interests`
func RegisterInterestRoutes(api *mux.Router, interestService *services.InterestService) {
	controller := controllers.NewInterestController(interestService)

	interestRouter := api.PathPrefix("/interests").Subrouter()

	interestRouter.HandleFunc("", controller.HandleExpressInterest).Methods("POST")
	interestRouter.HandleFunc("", controller.HandleGetInterests).Methods("GET")
	interestRouter.HandleFunc("/accept", controller.HandleAcceptInterest).Methods("POST")
	interestRouter.HandleFunc("/reject", controller.HandleRejectInterest).Methods("POST")
	interestRouter.HandleFunc("/withdraw", controller.HandleWithdrawInterest).Methods("POST")
	interestRouter.HandleFunc("/history", controller.HandleGetHistory).Methods("GET")
}

// RegisterBlockRoutes registers `/api/blocks`
func RegisterBlockRoutes(api *mux.Router, blocks services.BlockList, interestService *services.InterestService) {
	controller := controllers.NewBlockController(blocks, interestService)

	api.HandleFunc("/blocks", controller.HandleBlockUser).Methods("POST")
}
