// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package broadcast moves tally updates from vote admission to observers.

A Dispatcher owns a bounded queue. The vote path calls Enqueue, which never
blocks and returns ErrQueueFull when saturated; the vote itself is already
committed at that point and stands regardless. Run drains the queue into a
Sink in order.

# Sinks

  - hub.Hub: single instance, updates go straight to local observers
  - RedisRelay: updates go through a Redis Pub/Sub channel so every
    instance's hub sees every vote; RedisRelay.Run feeds the local hub
*/
package broadcast
