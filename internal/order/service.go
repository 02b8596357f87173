package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/avdonin/webmarket/internal/logging"
	"github.com/avdonin/webmarket/internal/models"
	"github.com/avdonin/webmarket/internal/repo"
)

var (
	ErrValidation      = errors.New("validation")
	ErrProductNotFound = errors.New("product not found")
)

type Item struct {
	ProductID uint `json:"product_id"`
	Quantity  uint `json:"quantity"`
}

type Service struct {
	Repo *repo.GormRepo
}

func NewService(r *repo.GormRepo) *Service {
	return &Service{Repo: r}
}

// Create builds an order in one transaction: insert the header, read each
// product's current price inside the same transaction, insert item rows,
// update the total. Any failure rolls the whole order back, a partial order
// is never observable.
func (s *Service) Create(ctx context.Context, userID uint, items []Item) (*models.Order, []models.OrderItem, error) {
	l := logging.FromContext(ctx).With("svc", "order.create", "user_id", userID)

	if len(items) == 0 {
		return nil, nil, fmt.Errorf("%w: items required", ErrValidation)
	}
	for _, it := range items {
		if it.ProductID == 0 {
			return nil, nil, fmt.Errorf("%w: product_id required", ErrValidation)
		}
		if it.Quantity == 0 {
			return nil, nil, fmt.Errorf("%w: quantity must be > 0", ErrValidation)
		}
	}

	var (
		order      models.Order
		orderItems []models.OrderItem
	)

	txErr := s.Repo.WithTransaction(ctx, func(tx *repo.GormRepo) error {
		order = models.Order{
			UserID:    userID,
			Status:    "new",
			CreatedAt: time.Now().Unix(),
		}
		if err := tx.DB.Create(&order).Error; err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		var total float64
		orderItems = make([]models.OrderItem, 0, len(items))
		for _, it := range items {
			var p models.Product
			if err := tx.DB.First(&p, it.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: id %d", ErrProductNotFound, it.ProductID)
				}
				return fmt.Errorf("db error: %w", err)
			}

			oi := models.OrderItem{
				OrderID:   order.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: p.Price,
			}
			if err := tx.DB.Create(&oi).Error; err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			orderItems = append(orderItems, oi)
			total += float64(it.Quantity) * p.Price
		}

		order.Total = total
		if err := tx.DB.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("total", total).Error; err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if txErr != nil {
		l.Warn("order_failed", "error", txErr)
		return nil, nil, txErr
	}

	l.Info("order_created", "order_id", order.ID, "total", order.Total)
	return &order, orderItems, nil
}

func (s *Service) List(ctx context.Context, userID uint, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var orders []models.Order
	err := s.Repo.DB.WithContext(ctx).Model(&models.Order{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return orders, nil
}

func (s *Service) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var p models.Product
	if err := s.Repo.DB.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &p, nil
}

func (s *Service) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var products []models.Product
	err := s.Repo.DB.WithContext(ctx).Limit(limit).Offset(offset).Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.Name == "" || p.Price < 0 {
		return fmt.Errorf("%w: name required, price must be >= 0", ErrValidation)
	}
	if err := s.Repo.DB.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
