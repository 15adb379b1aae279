package db

import "github.com/loomshop/loomshop/internal/models"

type Order = models.Order
type OrderStatus = models.OrderStatus
type Product = models.Product

const (
	StatusCreated    = models.StatusCreated
	StatusPaid       = models.StatusPaid
	StatusProcessing = models.StatusProcessing
	StatusShipped    = models.StatusShipped
	StatusDelivered  = models.StatusDelivered
)
