package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/services"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

// MockOrderService - мок для тестирования handlers
type MockOrderService struct {
	SubmitFunc         func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error)
	RedeemCodeFunc     func(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error)
	CancelFunc         func(ctx context.Context, user *models.User, orderID int64) error
	ConfirmReceiptFunc func(ctx context.Context, user *models.User, orderID int64) error
	DisputeFunc        func(ctx context.Context, user *models.User, orderID int64) error
	GetUserOrdersFunc  func(ctx context.Context, userID int64) ([]*models.OrderResponse, error)
}

func (m *MockOrderService) Submit(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, user, req, proofRef)
	}
	return nil, nil
}

func (m *MockOrderService) RedeemCode(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error) {
	if m.RedeemCodeFunc != nil {
		return m.RedeemCodeFunc(ctx, user, req)
	}
	return nil, nil
}

func (m *MockOrderService) Cancel(ctx context.Context, user *models.User, orderID int64) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, user, orderID)
	}
	return nil
}

func (m *MockOrderService) ConfirmReceipt(ctx context.Context, user *models.User, orderID int64) error {
	if m.ConfirmReceiptFunc != nil {
		return m.ConfirmReceiptFunc(ctx, user, orderID)
	}
	return nil
}

func (m *MockOrderService) Dispute(ctx context.Context, user *models.User, orderID int64) error {
	if m.DisputeFunc != nil {
		return m.DisputeFunc(ctx, user, orderID)
	}
	return nil
}

func (m *MockOrderService) GetUserOrders(ctx context.Context, userID int64) ([]*models.OrderResponse, error) {
	if m.GetUserOrdersFunc != nil {
		return m.GetUserOrdersFunc(ctx, userID)
	}
	return nil, nil
}

// MockBlobStore - мок файлового хранилища
type MockBlobStore struct {
	SaveFunc func(r io.Reader, originalName string) (string, error)
}

func (m *MockBlobStore) Save(r io.Reader, originalName string) (string, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(r, originalName)
	}
	return "ref-1", nil
}

func (m *MockBlobStore) Path(ref string) (string, error) {
	return "/tmp/" + ref, nil
}

// submitRequest собирает multipart-запрос с полями заказа и файлом чека.
func submitRequest(t *testing.T, fields map[string]string, withProof bool) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if withProof {
		fw, err := mw.CreateFormFile("proof", "receipt.jpg")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write([]byte("jpeg-bytes")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}

func authContext(c echo.Context) {
	c.Set(string(auth.UserIDKey), int64(42))
	c.Set(string(auth.UsernameKey), "buyer")
	c.Set(string(auth.RoleKey), "user")
}

func TestOrderHandler_Submit(t *testing.T) {
	tests := []struct {
		name           string
		fields         map[string]string
		withProof      bool
		mockService    *MockOrderService
		expectedStatus int
	}{
		{
			name:      "successful submit",
			fields:    map[string]string{"package": "basic_30", "remark": "acc-777"},
			withProof: true,
			mockService: &MockOrderService{
				SubmitFunc: func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
					if req.Package != "basic_30" {
						t.Errorf("package = %s, want basic_30", req.Package)
					}
					if proofRef == "" {
						t.Error("proofRef is empty")
					}
					return &models.Order{ID: 1, UserID: user.ID, Package: req.Package, Status: models.OrderStatusSubmitted}, nil
				},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing proof file",
			fields:         map[string]string{"package": "basic_30"},
			withProof:      false,
			mockService:    &MockOrderService{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:      "unknown package",
			fields:    map[string]string{"package": "nope"},
			withProof: true,
			mockService: &MockOrderService{
				SubmitFunc: func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
					return nil, services.ErrPackageUnknown
				},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:      "duplicate remark",
			fields:    map[string]string{"package": "basic_30", "remark": "acc-777"},
			withProof: true,
			mockService: &MockOrderService{
				SubmitFunc: func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
					return nil, services.ErrDuplicateRemark
				},
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name:      "no sellers available",
			fields:    map[string]string{"package": "basic_30"},
			withProof: true,
			mockService: &MockOrderService{
				SubmitFunc: func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
					return nil, services.ErrNoCapacity
				},
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:      "internal error",
			fields:    map[string]string{"package": "basic_30"},
			withProof: true,
			mockService: &MockOrderService{
				SubmitFunc: func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
					return nil, errors.New("database error")
				},
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := submitRequest(t, tt.fields, tt.withProof)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			authContext(c)

			handler := NewOrderHandler(tt.mockService, &MockBlobStore{})
			err := handler.Submit(c)

			if tt.expectedStatus < 400 {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				if rec.Code != tt.expectedStatus {
					t.Errorf("Expected status %d, got %d", tt.expectedStatus, rec.Code)
				}
			} else {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				if he, ok := err.(*echo.HTTPError); ok {
					if he.Code != tt.expectedStatus {
						t.Errorf("Expected status %d, got %d", tt.expectedStatus, he.Code)
					}
				}
			}
		})
	}
}

func TestOrderHandler_SubmitInsufficientFunds(t *testing.T) {
	e := echo.New()
	req := submitRequest(t, map[string]string{"package": "basic_30"}, true)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	authContext(c)

	mock := &MockOrderService{
		SubmitFunc: func(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
			return nil, &storage.InsufficientFundsError{Shortfall: decimal.NewFromInt(20)}
		},
	}
	handler := NewOrderHandler(mock, &MockBlobStore{})
	if err := handler.Submit(c); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("20.00")) {
		t.Errorf("body = %s, want shortfall 20.00", rec.Body.String())
	}
}

func TestOrderHandler_RedeemCode(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    string
		mockService    *MockOrderService
		expectedStatus int
	}{
		{
			name:        "successful redeem",
			requestBody: `{"code":"AB12-CD34-EF56"}`,
			mockService: &MockOrderService{
				RedeemCodeFunc: func(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error) {
					return &models.Order{ID: 7, UserID: user.ID, Status: models.OrderStatusSubmitted}, nil
				},
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:        "code not found",
			requestBody: `{"code":"XXXX-XXXX-XXXX"}`,
			mockService: &MockOrderService{
				RedeemCodeFunc: func(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error) {
					return nil, storage.ErrCodeNotFound
				},
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:        "code already used",
			requestBody: `{"code":"AB12-CD34-EF56"}`,
			mockService: &MockOrderService{
				RedeemCodeFunc: func(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error) {
					return nil, storage.ErrCodeUsed
				},
			},
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/orders/redeem", bytes.NewBufferString(tt.requestBody))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			authContext(c)

			handler := NewOrderHandler(tt.mockService, &MockBlobStore{})
			err := handler.RedeemCode(c)

			if tt.expectedStatus < 400 {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				if rec.Code != tt.expectedStatus {
					t.Errorf("Expected status %d, got %d", tt.expectedStatus, rec.Code)
				}
			} else {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				if he, ok := err.(*echo.HTTPError); ok {
					if he.Code != tt.expectedStatus {
						t.Errorf("Expected status %d, got %d", tt.expectedStatus, he.Code)
					}
				}
			}
		})
	}
}

func TestOrderHandler_Actions(t *testing.T) {
	tests := []struct {
		name           string
		orderID        string
		actionErr      error
		expectedStatus int
	}{
		{"successful cancel", "1", nil, http.StatusOK},
		{"invalid order id", "abc", nil, http.StatusBadRequest},
		{"order not found", "2", storage.ErrOrderNotFound, http.StatusNotFound},
		{"not order owner", "3", services.ErrNotOrderOwner, http.StatusForbidden},
		{"wrong status", "4", services.ErrWrongStatus, http.StatusConflict},
		{"internal error", "5", errors.New("database error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/orders/"+tt.orderID+"/cancel", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.orderID)
			authContext(c)

			mock := &MockOrderService{
				CancelFunc: func(ctx context.Context, user *models.User, orderID int64) error {
					return tt.actionErr
				},
			}
			handler := NewOrderHandler(mock, &MockBlobStore{})
			err := handler.Cancel(c)

			if tt.expectedStatus < 400 {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				if rec.Code != tt.expectedStatus {
					t.Errorf("Expected status %d, got %d", tt.expectedStatus, rec.Code)
				}
			} else {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				if he, ok := err.(*echo.HTTPError); ok {
					if he.Code != tt.expectedStatus {
						t.Errorf("Expected status %d, got %d", tt.expectedStatus, he.Code)
					}
				}
			}
		})
	}
}

func TestOrderHandler_List(t *testing.T) {
	t.Run("empty list returns 204", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		authContext(c)

		handler := NewOrderHandler(&MockOrderService{}, &MockBlobStore{})
		if err := handler.List(c); err != nil {
			t.Fatalf("List: %v", err)
		}
		if rec.Code != http.StatusNoContent {
			t.Errorf("Expected status 204, got %d", rec.Code)
		}
	})

	t.Run("orders returned as JSON", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		authContext(c)

		mock := &MockOrderService{
			GetUserOrdersFunc: func(ctx context.Context, userID int64) ([]*models.OrderResponse, error) {
				return []*models.OrderResponse{
					{ID: 1, Package: "basic_30", Status: string(models.OrderStatusSubmitted)},
				}, nil
			},
		}
		handler := NewOrderHandler(mock, &MockBlobStore{})
		if err := handler.List(c); err != nil {
			t.Fatalf("List: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rec.Code)
		}
		if !bytes.Contains(rec.Body.Bytes(), []byte("basic_30")) {
			t.Errorf("body = %s, want basic_30", rec.Body.String())
		}
	})
}
