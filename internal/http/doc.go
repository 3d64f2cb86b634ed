// Package http exposes the eventhub services as a JSON REST API under /api/v1.
//
// Every response uses the envelope {"status":"success","data":...}; failures
// use {"status":"error","message":...}. List payloads carry
// {"data":[...],"total":N} plus "page" and "pages" when the client asked for
// pagination. The endpoints are:
//   - /users: signup, login, forgotPassword, resetPassword/{token}, the
//     signed-in user's profile under /users/me (password, events, bookings,
//     booked-events, photo, favorites) and administrator account management.
//   - /events: QueryFeatures listing, creation, patching, publishing,
//     cancellation (DELETE), tier cancellation, stats, refund requests,
//     checkout and the cover photo.
//   - /bookings: administrator listing and direct creation, per-booking reads
//     and deletes, and the refund request workflow.
//   - /webhooks/payment: payment processor callbacks.
//
// Request and response DTOs live alongside their handlers; dto.go holds the
// shared representations of users, events and bookings.
package http
