// Package weft is a conflict-free replicated document engine. A Doc
// holds named shared types (Text, Array, Map) that multiple replicas
// mutate independently, offline or concurrently; exchanging the opaque
// update bytes produced by transactions makes every replica converge
// on the same state, regardless of delivery order or duplication.
//
// The package has no network layer. Callers move update bytes however
// they like (files, queues, sockets) and feed them to ApplyUpdate.
// Delta sync uses state vectors: EncodeStateVector describes what a
// replica has, EncodeStateAsUpdate produces the missing difference.
package weft
