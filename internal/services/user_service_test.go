package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

func newUserService(mem *storage.Memory) *UserServiceImpl {
	return NewUserService(mem.Users, mem.Ledger, "test-secret", time.Hour)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("successful registration issues valid token", func(t *testing.T) {
		mem := storage.NewMemory()
		service := newUserService(mem)

		user, token, err := service.Register(ctx, "buyer", "password123")
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if user.ID == 0 {
			t.Error("user ID not assigned")
		}
		if user.Role != models.RoleUser {
			t.Errorf("Role = %s, want %s", user.Role, models.RoleUser)
		}

		claims, err := auth.ValidateToken(token, "test-secret")
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if claims.UserID != user.ID || claims.Username != "buyer" {
			t.Errorf("claims = %d/%s, want %d/buyer", claims.UserID, claims.Username, user.ID)
		}
	})

	t.Run("empty credentials", func(t *testing.T) {
		mem := storage.NewMemory()
		service := newUserService(mem)

		tests := []struct{ username, password string }{
			{"", "password123"},
			{"buyer", ""},
			{"", ""},
		}
		for _, tt := range tests {
			if _, _, err := service.Register(ctx, tt.username, tt.password); !errors.Is(err, ErrEmptyCredentials) {
				t.Errorf("Register(%q, %q) error = %v, want ErrEmptyCredentials", tt.username, tt.password, err)
			}
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		mem := storage.NewMemory()
		service := newUserService(mem)

		if _, _, err := service.Register(ctx, "buyer", "password123"); err != nil {
			t.Fatalf("Register: %v", err)
		}
		if _, _, err := service.Register(ctx, "buyer", "другой"); !errors.Is(err, storage.ErrUsernameExists) {
			t.Errorf("error = %v, want ErrUsernameExists", err)
		}
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	service := newUserService(mem)

	registered, _, err := service.Register(ctx, "buyer", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	t.Run("successful login", func(t *testing.T) {
		user, token, err := service.Login(ctx, "buyer", "password123")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if user.ID != registered.ID {
			t.Errorf("user ID = %d, want %d", user.ID, registered.ID)
		}
		if _, err := auth.ValidateToken(token, "test-secret"); err != nil {
			t.Errorf("ValidateToken: %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, _, err := service.Login(ctx, "buyer", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, _, err := service.Login(ctx, "ghost", "password123"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("empty credentials", func(t *testing.T) {
		if _, _, err := service.Login(ctx, "", ""); !errors.Is(err, ErrEmptyCredentials) {
			t.Errorf("error = %v, want ErrEmptyCredentials", err)
		}
	})
}

func TestGetBalance(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	service := newUserService(mem)

	user := &models.User{
		Username:     "buyer",
		PasswordHash: "hash",
		Balance:      decimal.NewFromFloat(150.50),
	}
	if err := mem.Users.Create(ctx, user); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	if err := mem.Users.SetCreditLimit(ctx, user.ID, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("SetCreditLimit: %v", err)
	}

	balance, err := service.GetBalance(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Balance != 150.50 {
		t.Errorf("Balance = %v, want 150.50", balance.Balance)
	}
	if balance.CreditLimit != 20 {
		t.Errorf("CreditLimit = %v, want 20", balance.CreditLimit)
	}

	if _, err := service.GetBalance(ctx, 9999); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestGetLedger(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	service := newUserService(mem)

	user, _, err := service.Register(ctx, "buyer", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	entries, err := service.GetLedger(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(entries))
	}

	req := &models.RechargeRequest{UserID: user.ID, Amount: decimal.NewFromInt(100), ProofRef: "ref-1"}
	if err := mem.Recharges.Create(ctx, req); err != nil {
		t.Fatalf("Create recharge: %v", err)
	}
	if ok, err := mem.Recharges.Approve(ctx, req.ID, "admin"); err != nil || !ok {
		t.Fatalf("Approve = %v, %v", ok, err)
	}

	entries, err = service.GetLedger(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Amount != 100 {
		t.Errorf("Amount = %v, want 100", entries[0].Amount)
	}
	if entries[0].Type != string(models.LedgerTypeRecharge) {
		t.Errorf("Type = %s, want %s", entries[0].Type, models.LedgerTypeRecharge)
	}
	if entries[0].BalanceAfter != 100 {
		t.Errorf("BalanceAfter = %v, want 100", entries[0].BalanceAfter)
	}
}
