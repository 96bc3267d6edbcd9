package request_models

type StartPaymentRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type ListPaymentsQuery struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"pageSize,default=20"`
}
