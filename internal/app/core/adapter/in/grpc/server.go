package grpc

import (
	"context"
	"errors"
	"math"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// Request/Response 欄位名稱
//
// google.protobuf.Struct 的數字是 double，超過 2^53 會失真，
// 所以金額、餘額一律以十進位字串傳遞；請求端兩種格式都接受
const (
	FieldOwnerID     = "owner_id"
	FieldFromOwnerID = "from_owner_id"
	FieldToOwnerID   = "to_owner_id"
	FieldCurrencyID  = "currency_id"
	FieldAmount      = "amount"
	FieldClientTxID  = "client_tx_id"
	FieldBalance     = "balance"
	FieldBalances    = "balances"
	FieldCurrency    = "currency"
	FieldFormatted   = "formatted"
	FieldEntryID     = "entry_id"
	FieldNormal      = "normal"
	FieldTechnical   = "technical"
	FieldBalanced    = "balanced"
)

type GrpcServer struct {
	core   *usecase.CoreUseCase
	logger *zap.Logger
}

func NewGrpcServer(core *usecase.CoreUseCase, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{
		core:   core,
		logger: logger,
	}
}

// GetBalance {owner_id, currency_id} -> {balance}
func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ownerID, err := int64Field(req, FieldOwnerID)
	if err != nil {
		return nil, err
	}
	currencyID, err := int64Field(req, FieldCurrencyID)
	if err != nil {
		return nil, err
	}

	balance, err := s.core.GetBalance(ctx, ownerID, currencyID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{
		FieldBalance: formatInt(balance),
	})
}

// GetAllBalances {owner_id} -> {balances: [{currency, balance, formatted}]}
func (s *GrpcServer) GetAllBalances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ownerID, err := int64Field(req, FieldOwnerID)
	if err != nil {
		return nil, err
	}

	balances, err := s.core.GetAllBalances(ctx, ownerID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	list := make([]any, 0, len(balances))
	for _, b := range balances {
		list = append(list, map[string]any{
			FieldCurrency:  b.CurrencyCode,
			FieldBalance:   formatInt(b.Balance),
			FieldFormatted: b.Formatted(),
		})
	}
	return newStruct(map[string]any{
		FieldBalances: list,
	})
}

// UpdateBalance {owner_id, currency_id, amount, client_tx_id} -> {balance}
func (s *GrpcServer) UpdateBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ownerID, err := int64Field(req, FieldOwnerID)
	if err != nil {
		return nil, err
	}
	currencyID, err := int64Field(req, FieldCurrencyID)
	if err != nil {
		return nil, err
	}
	amount, err := int64Field(req, FieldAmount)
	if err != nil {
		return nil, err
	}

	account, err := s.core.UpdateBalance(ctx, ownerID, currencyID, amount, stringField(req, FieldClientTxID))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{
		FieldBalance: formatInt(account.Balance),
	})
}

// Transfer {from_owner_id, to_owner_id, currency_id, amount, client_tx_id} -> {entry_id}
func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fromOwnerID, err := int64Field(req, FieldFromOwnerID)
	if err != nil {
		return nil, err
	}
	toOwnerID, err := int64Field(req, FieldToOwnerID)
	if err != nil {
		return nil, err
	}
	currencyID, err := int64Field(req, FieldCurrencyID)
	if err != nil {
		return nil, err
	}
	amount, err := int64Field(req, FieldAmount)
	if err != nil {
		return nil, err
	}

	entry, err := s.core.Transfer(ctx, fromOwnerID, toOwnerID, currencyID, amount, stringField(req, FieldClientTxID))
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(map[string]any{
		FieldEntryID:    formatInt(entry.ID),
		FieldClientTxID: entry.ClientTxID,
	})
}

// Reconcile {currency_id} -> {normal, technical, balanced}
// 不平衡時仍回傳總額，並以 DataLoss 表示
func (s *GrpcServer) Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	currencyID, err := int64Field(req, FieldCurrencyID)
	if err != nil {
		return nil, err
	}

	totals, err := s.core.Reconcile(ctx, currencyID)
	if err != nil && !errors.Is(err, domain.ErrLedgerImbalance) {
		return nil, s.toStatus(err)
	}
	resp, buildErr := newStruct(map[string]any{
		FieldNormal:    formatInt(totals.Normal),
		FieldTechnical: formatInt(totals.Technical),
		FieldBalanced:  totals.Balanced(),
	})
	if buildErr != nil {
		return nil, buildErr
	}
	if err != nil {
		return resp, status.Error(codes.DataLoss, err.Error())
	}
	return resp, nil
}

// toStatus domain 錯誤轉 gRPC status
func (s *GrpcServer) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrLockAcquisition):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrLedgerImbalance):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error("ledger request failed", zap.Error(err))
		return status.Error(codes.Internal, err.Error())
	}
}

// int64Field 讀取整數欄位，接受 number 或十進位字串
func int64Field(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "missing field %q", name)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "field %q: %v", name, err)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, status.Errorf(codes.InvalidArgument, "field %q must be an integer within ±2^53, pass larger values as strings", name)
		}
		return int64(f), nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, "field %q must be a number or string", name)
	}
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
