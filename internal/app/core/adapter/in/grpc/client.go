package grpc

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
)

// Client LedgerService 的呼叫端封裝
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) GetBalance(ctx context.Context, ownerID, currencyID int64) (int64, error) {
	resp, err := c.invoke(ctx, MethodGetBalance, map[string]any{
		FieldOwnerID:    formatInt(ownerID),
		FieldCurrencyID: formatInt(currencyID),
	})
	if err != nil {
		return 0, err
	}
	return parseIntField(resp, FieldBalance)
}

// GetAllBalances 取得使用者所有幣別餘額，Formatted 依幣別小數位數格式化
func (c *Client) GetAllBalances(ctx context.Context, ownerID int64) ([]BalanceView, error) {
	resp, err := c.invoke(ctx, MethodGetAllBalances, map[string]any{
		FieldOwnerID: formatInt(ownerID),
	})
	if err != nil {
		return nil, err
	}
	items := resp.GetFields()[FieldBalances].GetListValue().GetValues()
	views := make([]BalanceView, 0, len(items))
	for _, item := range items {
		fields := item.GetStructValue()
		balance, err := parseIntField(fields, FieldBalance)
		if err != nil {
			return nil, err
		}
		views = append(views, BalanceView{
			Currency:  fields.GetFields()[FieldCurrency].GetStringValue(),
			Balance:   balance,
			Formatted: fields.GetFields()[FieldFormatted].GetStringValue(),
		})
	}
	return views, nil
}

func (c *Client) UpdateBalance(ctx context.Context, ownerID, currencyID, amount int64, clientTxID string) (int64, error) {
	resp, err := c.invoke(ctx, MethodUpdateBalance, map[string]any{
		FieldOwnerID:    formatInt(ownerID),
		FieldCurrencyID: formatInt(currencyID),
		FieldAmount:     formatInt(amount),
		FieldClientTxID: clientTxID,
	})
	if err != nil {
		return 0, err
	}
	return parseIntField(resp, FieldBalance)
}

func (c *Client) Transfer(ctx context.Context, fromOwnerID, toOwnerID, currencyID, amount int64, clientTxID string) (int64, error) {
	resp, err := c.invoke(ctx, MethodTransfer, map[string]any{
		FieldFromOwnerID: formatInt(fromOwnerID),
		FieldToOwnerID:   formatInt(toOwnerID),
		FieldCurrencyID:  formatInt(currencyID),
		FieldAmount:      formatInt(amount),
		FieldClientTxID:  clientTxID,
	})
	if err != nil {
		return 0, err
	}
	return parseIntField(resp, FieldEntryID)
}

// Reconcile 不平衡時 server 回傳 DataLoss，此時 Totals 仍可能為空
func (c *Client) Reconcile(ctx context.Context, currencyID int64) (domain.Totals, error) {
	resp, err := c.invoke(ctx, MethodReconcile, map[string]any{
		FieldCurrencyID: formatInt(currencyID),
	})
	if err != nil {
		return domain.Totals{}, err
	}
	normal, err := parseIntField(resp, FieldNormal)
	if err != nil {
		return domain.Totals{}, err
	}
	technical, err := parseIntField(resp, FieldTechnical)
	if err != nil {
		return domain.Totals{}, err
	}
	return domain.Totals{CurrencyID: currencyID, Normal: normal, Technical: technical}, nil
}

// BalanceView GetAllBalances 的一列
type BalanceView struct {
	Currency  string
	Balance   int64
	Formatted string
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseIntField(s *structpb.Struct, name string) (int64, error) {
	raw := s.GetFields()[name].GetStringValue()
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("response field %q: %w", name, err)
	}
	return n, nil
}
