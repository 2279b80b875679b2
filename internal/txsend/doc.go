package txsend

// Usage example (not compiled):
//
//  b := txsend.NewBroadcaster(client, chainID, cfg, logger)
//  out := b.Submit(ctx, txsend.Request{From: from, To: to, ValueWei: wei}, signer)
//  switch out.Status {
//  case txsend.StatusSuccess: // mined, out.Hash / out.BlockNumber
//  case txsend.StatusPending: // broadcast but unconfirmed, poll b.CheckStatus(out.Hash)
//  case txsend.StatusFailed:  // out.Reason + out.Message
//  }
//
//  // clearing a stuck nonce:
//  out = b.Resolver().Cancel(ctx, b, signer, nonce)
