// Package rpcserver is the JSON-RPC-over-HTTP transport (§6): one POST
// route accepting {jsonrpc, id, method, params} envelopes, dispatched by
// method name to the controller. Grounded on the teacher's dashboard
// server (internal/api/server.go: one http.Server, one mux, explicit
// timeouts) generalized from a fixed set of REST routes to a single
// dynamic-dispatch route, since the RPC surface here is schema-driven by
// method name rather than by URL path (§9 "Dynamic JSON inputs").
package rpcserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"derivex/internal/controller"
	"derivex/pkg/types"
)

// handlerFunc dispatches one RPC method given its decoded params.
type handlerFunc func(params map[string]any) types.Response

// Server owns the HTTP listener and the method dispatch table.
type Server struct {
	ctrl    *controller.Controller
	logger  *slog.Logger
	server  *http.Server
	methods map[string]handlerFunc
}

// New builds the dispatch table and binds it to addr. The table is built
// once at construction; unknown methods fail fast with invalid-argument
// rather than reaching the controller (§9: "unsupported method -> structured
// error, not crash").
func New(addr string, ctrl *controller.Controller, logger *slog.Logger) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: logger.With("component", "rpc-server"),
	}
	s.methods = s.buildDispatchTable()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", s.handleRPC)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("rpc server starting", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown() error {
	return s.server.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleRPC decodes one Request envelope, dispatches it, and always
// responds 200 with a Response envelope — per §7, RPC handlers catch
// every error and convert it to {status:"failure"} rather than surfacing
// an HTTP error status.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req types.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, types.Failure(types.KindInvalidArgument))
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		s.writeResponse(w, types.Failure(types.KindInvalidArgument))
		return
	}

	resp := s.dispatch(fn, req.Params)
	s.writeResponse(w, resp)
}

// dispatch recovers a panicking handler (e.g. a malformed param type
// assertion) into a failure response instead of crashing the process —
// matching §7's "RPC handlers catch all thrown errors" policy.
func (s *Server) dispatch(fn handlerFunc, params map[string]any) (resp types.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("rpc handler panicked", "error", fmt.Sprint(rec))
			resp = types.Failure(types.KindInvalidArgument)
		}
	}()
	if params == nil {
		params = map[string]any{}
	}
	return fn(params)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp types.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// ———————————————————————————————————————————————————————————————————————
// Param extraction helpers
// ———————————————————————————————————————————————————————————————————————

func paramString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// paramDecimal accepts either a JSON string (preferred, avoids float
// rounding on the wire) or a JSON number.
func paramDecimal(params map[string]any, key string) decimal.Decimal {
	switch v := params[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	default:
		return decimal.Zero
	}
}

func paramSide(params map[string]any, key string) (types.Side, bool) {
	switch paramString(params, key) {
	case "BUY", "buy":
		return types.BUY, true
	case "SELL", "sell":
		return types.SELL, true
	default:
		return "", false
	}
}

func paramTIF(params map[string]any, key string) types.TimeInForce {
	switch paramString(params, key) {
	case "IOC", "ioc":
		return types.IOC
	default:
		return types.GTC
	}
}

// buildDispatchTable wires every §4.4 RPC method to the matching
// Controller call. Public methods take only their explicit params; private
// methods always read "from" for the account address.
func (s *Server) buildDispatchTable() map[string]handlerFunc {
	c := s.ctrl
	return map[string]handlerFunc{
		// Public (market data)
		"public/get_order_book": func(p map[string]any) types.Response {
			return c.GetOrderBook(paramString(p, "instrument"), paramInt(p, "depth", 10))
		},
		"public/ticker": func(p map[string]any) types.Response {
			return c.GetTicker(paramString(p, "instrument"))
		},
		"public/get_index_price": func(p map[string]any) types.Response {
			return c.GetIndexPrice(paramString(p, "index"))
		},
		"public/get_index_price_names": func(p map[string]any) types.Response {
			return c.GetIndexPriceNames()
		},
		"public/get_currencies": func(p map[string]any) types.Response {
			return c.GetCurrencies()
		},
		"public/get_all_instrument_names": func(p map[string]any) types.Response {
			return c.GetAllInstrumentNames()
		},
		"public/get_instruments": func(p map[string]any) types.Response {
			return c.GetInstruments()
		},
		"public/get_trades_by_instrument": func(p map[string]any) types.Response {
			return c.GetTradesByInstrument(paramString(p, "instrument"))
		},
		"public/health_check": func(p map[string]any) types.Response {
			return c.HealthCheck()
		},
		"public/stats": func(p map[string]any) types.Response {
			return c.Stats()
		},

		// Private (account-scoped)
		"private/deposit": func(p map[string]any) types.Response {
			return c.Deposit(paramString(p, "from"), paramString(p, "currency"), paramDecimal(p, "amount"))
		},
		"private/withdraw": func(p map[string]any) types.Response {
			return c.Withdraw(paramString(p, "from"), paramString(p, "currency"), paramDecimal(p, "amount"))
		},
		"private/get_collateral": func(p map[string]any) types.Response {
			return c.GetCollateral(paramString(p, "from"))
		},
		"private/get_all_trades": func(p map[string]any) types.Response {
			return c.GetAllTrades(paramString(p, "from"))
		},
		"private/get_positions": func(p map[string]any) types.Response {
			return c.GetPositions(paramString(p, "from"))
		},
		"private/get_account_summary": func(p map[string]any) types.Response {
			return c.GetAccountSummary(paramString(p, "from"))
		},
		"private/get_open_orders": func(p map[string]any) types.Response {
			return c.GetOpenOrders(paramString(p, "from"))
		},
		"private/get_account_details": func(p map[string]any) types.Response {
			return c.GetAccountDetails(paramString(p, "from"))
		},
		"private/buy": func(p map[string]any) types.Response {
			return s.placeOrder(p, types.BUY)
		},
		"private/sell": func(p map[string]any) types.Response {
			return s.placeOrder(p, types.SELL)
		},

		// Internal: the oracle ingester's sole write path into the index bus.
		"index/update": func(p map[string]any) types.Response {
			name := paramString(p, "name")
			if name == "" {
				return types.Failure(types.KindInvalidArgument)
			}
			c.UpdateIndex(name, paramDecimal(p, "price"))
			return types.Success(map[string]string{"name": name})
		},
	}
}

func (s *Server) placeOrder(p map[string]any, side types.Side) types.Response {
	declaredSide, ok := paramSide(p, "side")
	if ok {
		side = declaredSide
	}

	var kind types.OrderKind
	switch paramString(p, "type") {
	case "market":
		kind = types.KindMarket
	default:
		kind = types.KindLimit
	}

	return s.ctrl.PlaceOrder(
		paramString(p, "from"),
		paramString(p, "instrument"),
		side,
		kind,
		paramDecimal(p, "size"),
		paramDecimal(p, "price"),
		paramInt(p, "leverage", 1),
		paramTIF(p, "time_in_force"),
	)
}
