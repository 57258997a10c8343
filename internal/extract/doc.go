// Package extract turns rendered product pages into price and availability
// values. Nothing in this package returns an error: unparseable input yields
// a zero price, and a page without a known price element yields NotFoundText.
package extract
