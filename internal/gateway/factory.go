package gateway

import (
	"fmt"

	exspot "langtrader-core/pkg/exchanges/binance"
	exfutcoin "langtrader-core/pkg/exchanges/binance/futures_coin"
	exfutusdt "langtrader-core/pkg/exchanges/binance/futures_usdt"
	spotcfg "langtrader-core/pkg/exchanges/binance/spot"
	exchange "langtrader-core/pkg/exchanges/common"
)

// DefaultFactory creates Gateway instances based on exchange type.
func DefaultFactory(exchangeType, apiKey, apiSecret string) (exchange.Gateway, error) {
	switch exchangeType {
	case "binance-spot":
		return exspot.NewGateway(spotcfg.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   false,
		}), nil

	case "binance-usdtfut":
		return exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   false,
		}), nil

	case "binance-coinfut":
		return exfutcoin.NewClient(exfutcoin.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   false,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported exchange type: %s", exchangeType)
	}
}

// TestnetFactory creates Gateway instances for testnet.
func TestnetFactory(exchangeType, apiKey, apiSecret string) (exchange.Gateway, error) {
	switch exchangeType {
	case "binance-spot":
		return exspot.NewGateway(spotcfg.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   true,
		}), nil

	case "binance-usdtfut":
		return exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   true,
		}), nil

	case "binance-coinfut":
		return exfutcoin.NewClient(exfutcoin.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   true,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported exchange type: %s", exchangeType)
	}
}
