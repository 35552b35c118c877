package redis

import "strconv"

// Redis key naming conventions for orderflow data.
// All keys are prefixed with "orderflow:" to avoid collisions.

const keyPrefix = "orderflow:"

// ── Order keys ──

// orderKey returns the key for an order record: orderflow:order:{id}
func orderKey(id string) string { return keyPrefix + "order:" + id }

// orderIDsKey is the Set tracking all order IDs for enumeration.
const orderIDsKey = keyPrefix + "order_ids"

// ── Inventory keys ──

// productKey returns the key for a stock record: orderflow:product:{sku}
func productKey(sku string) string { return keyPrefix + "product:" + sku }

// reservationKey returns the key for a reservation: orderflow:rsv:{id}
func reservationKey(id string) string { return keyPrefix + "rsv:" + id }

// orderReservationsKey is the Set of reservation IDs held by an order.
func orderReservationsKey(orderID string) string {
	return keyPrefix + "order_rsvs:" + orderID
}

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: orderflow:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Stream keys ──

// checkpointKey returns the key holding a partition's last acked
// sequence token: orderflow:checkpoint:{partition}
func checkpointKey(partition int) string {
	return keyPrefix + "checkpoint:" + strconv.Itoa(partition)
}
